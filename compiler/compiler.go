package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/kbukum/batchpredict/dag"
	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/resilience"
	"github.com/kbukum/batchpredict/storage"
)

// DefaultOutput is where Compile writes when no path is given.
const DefaultOutput = "prediction.json"

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Encode serialises s as YAML when path ends in .yaml or .yml, JSON otherwise.
func Encode(s *Spec, path string) ([]byte, error) {
	if isYAML(path) {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return nil, errors.Internal(err)
		}
		if err := enc.Close(); err != nil {
			return nil, errors.Internal(err)
		}
		return buf.Bytes(), nil
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errors.Internal(err)
	}
	return append(data, '\n'), nil
}

// Decode parses a definition written by Encode.
func Decode(data []byte, path string) (*Spec, error) {
	s := &Spec{}
	var err error
	if isYAML(path) {
		err = yaml.Unmarshal(data, s)
	} else {
		err = json.Unmarshal(data, s)
	}
	if err != nil {
		return nil, errors.InvalidFormat("pipeline definition", "compiled JSON or YAML").WithCause(err).WithDetail("path", path)
	}
	return s, nil
}

// Compile writes the definition of g to path. The file is written next to
// its destination and renamed into place, so a failed compile leaves no
// partial output.
func Compile(g *dag.Graph, path string) (*Spec, error) {
	if path == "" {
		path = DefaultOutput
	}
	s := FromGraph(g)
	data, err := Encode(s, path)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Internal(err).WithDetail("path", path)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, errors.Internal(err).WithDetail("path", path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, errors.Internal(err).WithDetail("path", path)
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.Internal(err).WithDetail("path", path)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return nil, errors.Internal(err).WithDetail("path", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, errors.Internal(err).WithDetail("path", path)
	}
	return s, nil
}

// Load reads a definition from path.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("pipeline definition", path)
		}
		return nil, errors.Internal(err).WithDetail("path", path)
	}
	return Decode(data, path)
}

// Publish uploads a compiled definition to uri, retrying transient failures.
func Publish(ctx context.Context, store *storage.Resolver, src, uri string, retry resilience.RetryConfig) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return errors.NotFound("pipeline definition", src).WithCause(err)
	}
	return resilience.RetryFunc(ctx, retry, func() error {
		return store.WriteBytes(ctx, uri, data)
	})
}
