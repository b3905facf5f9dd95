// Package inference runs batch predictions over dataset shards in object
// storage with a bounded pool of replica workers.
package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kbukum/batchpredict/components/model"
	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/storage"
	"github.com/kbukum/batchpredict/validation"
)

// FormatJSONL is the only supported instances and predictions format.
const FormatJSONL = "jsonl"

// Job describes a batch prediction.
type Job struct {
	DisplayName       string
	Model             model.Model
	InstancesFormat   string
	PredictionsFormat string
	// SourceURIs is a glob matching the instance shards.
	SourceURIs string
	// DestinationPrefix is the URI the output directory is created under.
	DestinationPrefix string
	MachineType       string
	MinReplicas       int
	MaxReplicas       int
}

// Result describes the written predictions.
type Result struct {
	JobID       string   `json:"job_id"`
	DisplayName string   `json:"display_name"`
	OutputDir   string   `json:"output_dir"`
	URIGlob     string   `json:"uri_glob"`
	Files       []string `json:"files"`
	Instances   int64    `json:"instances"`
	Replicas    int      `json:"replicas"`
}

// Engine scores instance shards.
type Engine struct {
	store   *storage.Resolver
	scorers ScorerFactory
	log     *logger.Logger
	now     func() time.Time
}

// NewEngine creates an Engine that loads scorers from scorers.
func NewEngine(store *storage.Resolver, scorers ScorerFactory, log *logger.Logger) *Engine {
	return &Engine{store: store, scorers: scorers, log: log.WithComponent("inference"), now: time.Now}
}

func (j Job) validate() error {
	v := validation.New().
		Required("job_display_name", j.DisplayName).
		Required("gcs_source_uris", j.SourceURIs).
		Required("gcs_destination_output_uri_prefix", j.DestinationPrefix).
		OneOf("instances_format", strings.ToLower(j.InstancesFormat), []string{FormatJSONL}).
		OneOf("predictions_format", strings.ToLower(j.PredictionsFormat), []string{FormatJSONL}).
		Min("starting_replica_count", j.MinReplicas, 1).
		Custom(j.MaxReplicas >= j.MinReplicas, "max_replica_count", "must be at least starting_replica_count").
		Custom(!j.Model.Empty(), "model", "no model was resolved")
	return v.Err()
}

// Replicas returns the worker count for n shards: n clamped to [min, max].
func Replicas(n, minReplicas, maxReplicas int) int {
	return max(minReplicas, min(n, maxReplicas))
}

var unsafeName = regexp.MustCompile(`[^a-z0-9-]+`)

// OutputDir returns {prefix}/prediction-{display name}-{timestamp}.
func OutputDir(prefix, displayName string, at time.Time) string {
	name := strings.Trim(unsafeName.ReplaceAllString(strings.ToLower(displayName), "-"), "-")
	at = at.UTC()
	stamp := at.Format("2006_01_02T15_04_05_") + fmt.Sprintf("%03dZ", at.Nanosecond()/int(time.Millisecond))
	return storage.Join(prefix, fmt.Sprintf("prediction-%s-%s", name, stamp))
}

// Predict scores every instance shard and writes one predictions file per shard.
func (e *Engine) Predict(ctx context.Context, job Job) (Result, error) {
	if err := job.validate(); err != nil {
		return Result{}, err
	}
	shards, err := e.store.Glob(ctx, job.SourceURIs)
	if err != nil {
		return Result{}, err
	}
	if len(shards) == 0 {
		return Result{}, errors.NotFound("instances", job.SourceURIs)
	}
	scorer, err := e.scorers(ctx, job.Model)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		JobID:       uuid.NewString(),
		DisplayName: job.DisplayName,
		OutputDir:   OutputDir(job.DestinationPrefix, job.DisplayName, e.now()),
		Replicas:    Replicas(len(shards), job.MinReplicas, job.MaxReplicas),
		Files:       make([]string, len(shards)),
	}
	res.URIGlob = storage.Join(res.OutputDir, "predictions_*.jsonl")
	log := e.log.WithContext(ctx).WithFields(logger.Fields("job_id", res.JobID, "model", job.Model.ResourceName()))
	log.Info("batch prediction started", logger.Fields(
		"shards", len(shards),
		"replicas", res.Replicas,
		"machine_type", job.MachineType,
	))

	start := time.Now()
	var instances atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(res.Replicas)
	for i, shard := range shards {
		out := storage.Join(res.OutputDir, fmt.Sprintf("predictions_%05d.jsonl", i+1))
		res.Files[i] = out
		g.Go(func() error {
			n, err := e.scoreShard(gctx, scorer, shard, out)
			instances.Add(int64(n))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("batch prediction failed", logger.ErrorFields("predict", err))
		return Result{}, err
	}
	res.Instances = instances.Load()

	log.Info("batch prediction completed", logger.Fields(
		"instances", res.Instances,
		logger.FieldURI, res.URIGlob,
		logger.FieldDuration, time.Since(start).Milliseconds(),
	))
	return res, nil
}

type predictionLine struct {
	Instance   map[string]any `json:"instance"`
	Prediction any            `json:"prediction"`
}

func (e *Engine) scoreShard(ctx context.Context, scorer Scorer, in, out string) (int, error) {
	data, err := e.store.ReadAll(ctx, in)
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n, line := 0, 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var instance map[string]any
		if err := dec.Decode(&instance); err != nil {
			return n, errors.InvalidFormat("instances", "newline-delimited JSON objects").WithCause(err).
				WithDetail("uri", in).WithDetail("line", line)
		}
		prediction, err := scorer.Score(ctx, instance)
		if err != nil {
			return n, errors.ExternalServiceError("inference", err).WithDetail("uri", in).WithDetail("line", line)
		}
		if err := enc.Encode(predictionLine{Instance: instance, Prediction: prediction}); err != nil {
			return n, errors.Internal(err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, errors.Internal(err)
	}
	if err := e.store.WriteBytes(ctx, out, buf.Bytes()); err != nil {
		return n, err
	}
	return n, nil
}
