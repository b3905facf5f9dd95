package stats

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/storage"
	_ "github.com/kbukum/batchpredict/storage/local"
)

func newTestEngine(t *testing.T) (*Engine, *storage.Resolver) {
	t.Helper()
	store, err := storage.NewResolver(storage.Config{Provider: storage.ProviderLocal, BasePath: t.TempDir()}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return NewEngine(store, logger.Nop()), store
}

func TestSummarizer(t *testing.T) {
	s := NewSummarizer([]string{"trip_miles", "payment_type"})
	s.Add([]string{"1", "Cash"})
	s.Add([]string{"3", "Card"})
	s.Add([]string{"", "Cash"})
	s.Add([]string{"5"})

	stats := s.Statistics("serving")
	if stats.NumExamples != 4 || len(stats.Features) != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	miles, ok := stats.Feature("trip_miles")
	if !ok {
		t.Fatal("trip_miles missing")
	}
	if miles.Type != TypeFloat || miles.Missing != 1 || miles.Mean != 3 || miles.Min != 1 || miles.Max != 5 {
		t.Errorf("trip_miles = %+v", miles)
	}
	if want := math.Sqrt(8.0 / 3.0); math.Abs(miles.StdDev-want) > 1e-9 {
		t.Errorf("std dev = %v, want %v", miles.StdDev, want)
	}
	if miles.Values != nil {
		t.Errorf("numeric feature should not keep value counts")
	}

	payment, _ := stats.Feature("payment_type")
	if payment.Type != TypeString || payment.Unique != 2 || payment.Values["Cash"] != 2 || payment.Missing != 1 {
		t.Errorf("payment_type = %+v", payment)
	}
	if got := payment.PresenceFraction(); got != 0.75 {
		t.Errorf("presence = %v", got)
	}
	if d := payment.Distribution(); math.Abs(d["Cash"]-2.0/3.0) > 1e-9 {
		t.Errorf("distribution = %v", d)
	}
	// Features come back sorted by name.
	if stats.Features[0].Name != "payment_type" {
		t.Errorf("order = %s, %s", stats.Features[0].Name, stats.Features[1].Name)
	}
}

func TestGenerateAcrossShards(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)
	shards := map[string]string{
		"gs://b/ds/files-000000000000.csv": "trip_miles,payment_type\n1,Cash\n2,Card\n",
		"gs://b/ds/files-000000000001.csv": "trip_miles,payment_type\n3,Cash\n",
	}
	for uri, body := range shards {
		if err := store.WriteBytes(ctx, uri, []byte(body)); err != nil {
			t.Fatal(err)
		}
	}

	art, err := e.Generate(ctx, GenerateRequest{Dataset: "gs://b/ds", Output: "gs://b/stats/serving.json", Name: "serving"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	stats, err := Read(ctx, store, art.URI)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if stats.NumExamples != 3 || stats.Name != "serving" {
		t.Fatalf("stats = %+v", stats)
	}
	if f, _ := stats.Feature("trip_miles"); f.Mean != 2 {
		t.Errorf("mean = %v", f.Mean)
	}

	// A file pattern narrows the shard selection.
	art, err = e.Generate(ctx, GenerateRequest{Dataset: "gs://b/ds", FilePattern: "files-000000000001.csv", Output: "gs://b/stats/one.json"})
	if err != nil {
		t.Fatal(err)
	}
	if stats, _ = Read(ctx, store, art.URI); stats.NumExamples != 1 {
		t.Errorf("pattern selected %d examples", stats.NumExamples)
	}
}

func TestGenerateErrors(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)
	if err := store.WriteBytes(ctx, "gs://b/mixed/a.csv", []byte("x,y\n1,2\n")); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteBytes(ctx, "gs://b/mixed/b.csv", []byte("x,z\n1,2\n")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		req  GenerateRequest
		code errors.ErrorCode
	}{
		{"no dataset", GenerateRequest{Output: "gs://b/o.json"}, errors.ErrCodeMissingField},
		{"no files", GenerateRequest{Dataset: "gs://b/none", Output: "gs://b/o.json"}, errors.ErrCodeNotFound},
		{"header mismatch", GenerateRequest{Dataset: "gs://b/mixed", Output: "gs://b/o.json"}, errors.ErrCodeInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Generate(ctx, tt.req); !errors.HasCode(err, tt.code) {
				t.Fatalf("got %v, want %s", err, tt.code)
			}
		})
	}
}

func TestVisualise(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)
	if err := store.WriteBytes(ctx, "gs://b/serving.json", []byte(`{"num_examples":2,"features":[
		{"name":"trip_miles","type":"FLOAT","count":2,"mean":1.5,"min":1,"max":2},
		{"name":"payment_type","type":"STRING","count":2,"unique":1,"values":{"<Cash>":2}}]}`)); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteBytes(ctx, "gs://b/train.json", []byte(`{"num_examples":10,"features":[
		{"name":"trip_miles","type":"FLOAT","count":10,"mean":1.7},
		{"name":"tips","type":"FLOAT","count":10,"mean":0.5}]}`)); err != nil {
		t.Fatal(err)
	}

	art, err := e.Visualise(ctx, VisualiseRequest{
		Statistics: "gs://b/serving.json", StatisticsName: "Serving Statistics",
		OtherStatistics: "gs://b/train.json", OtherStatisticsName: "Training Statistics",
		Output: "gs://b/view.html",
	})
	if err != nil {
		t.Fatalf("Visualise: %v", err)
	}
	raw, err := store.ReadAll(ctx, art.URI)
	if err != nil {
		t.Fatal(err)
	}
	html := string(raw)
	for _, want := range []string{
		"<title>Serving Statistics vs Training Statistics</title>",
		"<td>tips</td>",
		"absent",
		"&lt;Cash&gt; (2)",
		"mean 1.5",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("html missing %q", want)
		}
	}

	if _, err := e.Visualise(ctx, VisualiseRequest{Statistics: "gs://b/missing.json", Output: "gs://b/v.html"}); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("missing statistics: got %v", err)
	}
}
