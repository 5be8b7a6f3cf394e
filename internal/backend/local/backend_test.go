package local_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kiranshivaraju/pavi/internal/backend/local"
	"github.com/kiranshivaraju/pavi/internal/objectstore"
	"github.com/kiranshivaraju/pavi/internal/pipeline"
	"github.com/kiranshivaraju/pavi/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRegions(n int) []models.SeqRegion {
	out := make([]models.SeqRegion, n)
	for i := range out {
		out[i] = models.SeqRegion{
			BaseSeqName:   fmt.Sprintf("gene%d", i),
			UniqueEntryID: fmt.Sprintf("entry-%d", i),
			SeqID:         "X",
			SeqStrand:     "+",
			FastaFileURL:  "https://example.org/genome.fa",
			ExonSeqRegions: []json.RawMessage{
				json.RawMessage(`"1..100"`),
			},
		}
	}
	out[0].VariantIDs = []string{"var-1"}
	return out
}

func newBackend(t *testing.T, dir string) *local.Backend {
	t.Helper()
	b, err := local.New(pipeline.Default(), dir, objectstore.NewFileStore(), nil)
	require.NoError(t, err)
	return b
}

func TestStart_WritesArtifactsAndSucceeds(t *testing.T) {
	dir := t.TempDir()
	b := newBackend(t, dir)

	handle, err := b.Start(context.Background(), models.StartRequest{
		ExecutionName: "pavi-job-1",
		Input:         models.ExecutionInput{JobID: "1", SeqRegions: sampleRegions(3)},
	})
	require.NoError(t, err)
	assert.Equal(t, "local:pavi-job-1", handle)
	assert.True(t, b.Owns(handle))

	desc, err := b.Describe(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSucceeded, desc.Status)
	assert.Equal(t, 3, desc.SequencesProcessed)
	assert.Equal(t, models.JobStageDone, desc.Stage)

	var out models.ExecutionOutput
	require.NoError(t, json.Unmarshal(desc.Output, &out))
	resultsDir := filepath.Join(dir, "executions", "pavi-job-1", "results")
	assert.Equal(t, "file://"+filepath.ToSlash(filepath.Join(resultsDir, pipeline.AlignmentArtifact)), out.ResultS3URI)

	aln, err := os.ReadFile(filepath.Join(resultsDir, pipeline.AlignmentArtifact))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(aln), "CLUSTAL"))
	assert.Contains(t, string(aln), "gene0_ref")
	assert.Contains(t, string(aln), "gene0_alt")
	assert.Contains(t, string(aln), "gene2")

	raw, err := os.ReadFile(filepath.Join(resultsDir, pipeline.SeqInfoArtifact))
	require.NoError(t, err)
	var info map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.Len(t, info, 4)
	assert.Equal(t, "entry-1", info["gene1"]["unique_entry_id"])
}

func TestStart_SameNameRunsOnce(t *testing.T) {
	dir := t.TempDir()
	b := newBackend(t, dir)
	req := models.StartRequest{ExecutionName: "pavi-job-2", Input: models.ExecutionInput{SeqRegions: sampleRegions(1)}}

	h1, err := b.Start(context.Background(), req)
	require.NoError(t, err)
	aln := filepath.Join(dir, "executions", "pavi-job-2", "results", pipeline.AlignmentArtifact)
	require.NoError(t, os.Remove(aln))

	h2, err := b.Start(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.NoFileExists(t, aln)
}

func TestDescribe_RecoversFromResultsDirectory(t *testing.T) {
	dir := t.TempDir()
	first := newBackend(t, dir)
	handle, err := first.Start(context.Background(), models.StartRequest{
		ExecutionName: "pavi-job-3",
		Input:         models.ExecutionInput{SeqRegions: sampleRegions(2)},
	})
	require.NoError(t, err)

	restarted := newBackend(t, dir)
	desc, err := restarted.Describe(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSucceeded, desc.Status)
	assert.Contains(t, string(desc.Output), pipeline.AlignmentArtifact)
}

func TestDescribe_UnknownExecutionFails(t *testing.T) {
	b := newBackend(t, t.TempDir())

	desc, err := b.Describe(context.Background(), "local:pavi-job-missing")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, desc.Status)
	assert.Equal(t, "ExecutionDoesNotExist", desc.Error)
}

func TestDescribe_ForeignHandle(t *testing.T) {
	b := newBackend(t, t.TempDir())

	_, err := b.Describe(context.Background(), "arn:aws:states:us-east-1:1:execution:m:x")
	assert.Error(t, err)
}

func TestStart_CancelledContextAborts(t *testing.T) {
	b := newBackend(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handle, err := b.Start(ctx, models.StartRequest{
		ExecutionName: "pavi-job-4",
		Input:         models.ExecutionInput{SeqRegions: sampleRegions(1)},
	})
	require.NoError(t, err)

	desc, err := b.Describe(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionAborted, desc.Status)
}

// gatedStore blocks the first write until release is closed and counts the
// final alignment writes.
type gatedStore struct {
	objectstore.Store
	once       sync.Once
	entered    chan struct{}
	release    chan struct{}
	alignments atomic.Int64
}

func (g *gatedStore) Put(ctx context.Context, uri string, data []byte) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	if strings.HasSuffix(uri, "/results/"+pipeline.AlignmentArtifact) {
		g.alignments.Add(1)
	}
	return g.Store.Put(ctx, uri, data)
}

func TestStart_ConcurrentSameNameRunsOnce(t *testing.T) {
	gate := &gatedStore{
		Store:   objectstore.NewFileStore(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	b, err := local.New(pipeline.Default(), t.TempDir(), gate, nil)
	require.NoError(t, err)
	req := models.StartRequest{ExecutionName: "pavi-job-7", Input: models.ExecutionInput{SeqRegions: sampleRegions(2)}}

	first := make(chan error, 1)
	go func() {
		_, err := b.Start(context.Background(), req)
		first <- err
	}()
	<-gate.entered

	desc, err := b.Describe(context.Background(), "local:pavi-job-7")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, desc.Status)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := b.Start(context.Background(), req)
			assert.NoError(t, err)
			assert.Equal(t, "local:pavi-job-7", h)
		}()
	}
	wg.Wait()

	close(gate.release)
	require.NoError(t, <-first)
	assert.Equal(t, int64(1), gate.alignments.Load())

	desc, err = b.Describe(context.Background(), "local:pavi-job-7")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSucceeded, desc.Status)
}
