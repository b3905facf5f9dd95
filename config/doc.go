// Package config loads service configuration with Viper from a YAML file,
// a .env file and the environment.
//
//	var cfg AppConfig
//	err := config.LoadConfig("batchpredict", &cfg,
//	    config.WithEnvAliases(map[string]string{"VERTEX_PROJECT_ID": "pipeline.project_id"}),
//	)
//
// Every leaf key of the target struct is bound to the environment variable
// named by EnvName, so pipeline.project_id is read from PIPELINE_PROJECT_ID.
package config
