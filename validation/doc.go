// Package validation provides input validation for pipeline parameters and
// collaborator requests.
//
// It supports struct tag validation (using the validator library) and
// programmatic validation with error collection.
//
// # Struct Tag Validation
//
//	type Params struct {
//	    ProjectID   string `mapstructure:"project_id" validate:"required"`
//	    MinReplicas int    `mapstructure:"batch_prediction_min_replicas" validate:"min=1"`
//	}
//	err := validation.Validate(params)
//
// # Programmatic Validation
//
//	v := validation.New()
//	v.Required("table", table).StorageURI("destination", uri)
//	err := v.Err()
package validation
