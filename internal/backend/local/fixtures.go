package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/pavi/internal/objectstore"
	"github.com/kiranshivaraju/pavi/internal/pipeline"
	"github.com/kiranshivaraju/pavi/pkg/models"
)

const placeholderProtein = "MAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA*"

// workAlignment is the intermediate alignment written by the align step.
const workAlignment = "alignment-output.aln"

type seqInfo struct {
	SeqID      string   `json:"seq_id"`
	SeqStrand  string   `json:"seq_strand"`
	EntryID    string   `json:"unique_entry_id"`
	VariantIDs []string `json:"variant_ids"`
}

// FixtureRunner stands in for the retrieval, alignment and collection
// containers. Each step reads what the previous one wrote, so a run leaves the
// same artifact set the real pipeline does.
type FixtureRunner struct {
	objects objectstore.Store
}

func NewFixtureRunner(objects objectstore.Store) *FixtureRunner {
	return &FixtureRunner{objects: objects}
}

func (r *FixtureRunner) RunTask(ctx context.Context, task pipeline.Task) error {
	switch task.Step {
	case pipeline.StepRetrieve:
		return r.retrieve(ctx, task)
	case pipeline.StepAlign:
		return r.align(ctx, task)
	case pipeline.StepCollect:
		return r.collect(ctx, task)
	default:
		return nil
	}
}

func seqNames(region models.SeqRegion) []string {
	if len(region.VariantIDs) == 0 {
		return []string{region.BaseSeqName}
	}
	suffix := "_alt"
	if region.AltSeqNameSuffix != nil {
		suffix = *region.AltSeqNameSuffix
	}
	return []string{region.BaseSeqName + "_ref", region.BaseSeqName + suffix}
}

func (r *FixtureRunner) retrieve(ctx context.Context, task pipeline.Task) error {
	if task.Region == nil {
		return &pipeline.TaskError{Code: pipeline.ErrorTaskFailed, Cause: "retrieval task without a region"}
	}
	region := *task.Region

	var fasta bytes.Buffer
	info := make(map[string]seqInfo)
	for _, name := range seqNames(region) {
		fmt.Fprintf(&fasta, ">%s\n%s\n", name, placeholderProtein)
		info[name] = seqInfo{
			SeqID:      region.SeqID,
			SeqStrand:  region.SeqStrand,
			EntryID:    region.UniqueEntryID,
			VariantIDs: region.VariantIDs,
		}
	}
	if err := r.objects.Put(ctx, task.WorkPrefix+region.UniqueEntryID+"-protein.fa", fasta.Bytes()); err != nil {
		return err
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return r.objects.Put(ctx, task.WorkPrefix+region.UniqueEntryID+"-seqinfo.json", data)
}

func (r *FixtureRunner) align(ctx context.Context, task pipeline.Task) error {
	var aln strings.Builder
	aln.WriteString("CLUSTAL O(1.2.4) multiple sequence alignment\n\n")
	for _, region := range task.Regions {
		fasta, err := r.objects.Get(ctx, task.WorkPrefix+region.UniqueEntryID+"-protein.fa")
		if err != nil {
			return &pipeline.TaskError{Code: pipeline.ErrorTaskFailed, Cause: err.Error()}
		}
		for _, rec := range strings.Split(strings.TrimSpace(string(fasta)), ">") {
			header, seq, ok := strings.Cut(rec, "\n")
			if !ok {
				continue
			}
			fmt.Fprintf(&aln, "%-24s %s\n", header, strings.TrimSpace(seq))
		}
	}
	return r.objects.Put(ctx, task.WorkPrefix+workAlignment, []byte(aln.String()))
}

func (r *FixtureRunner) collect(ctx context.Context, task pipeline.Task) error {
	aln, err := r.objects.Get(ctx, task.WorkPrefix+workAlignment)
	if err != nil {
		return &pipeline.TaskError{Code: pipeline.ErrorTaskFailed, Cause: err.Error()}
	}

	merged := make(map[string]seqInfo)
	for _, region := range task.Regions {
		data, err := r.objects.Get(ctx, task.WorkPrefix+region.UniqueEntryID+"-seqinfo.json")
		if err != nil {
			return &pipeline.TaskError{Code: pipeline.ErrorTaskFailed, Cause: err.Error()}
		}
		var info map[string]seqInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return fmt.Errorf("decoding seq info for %s: %w", region.UniqueEntryID, err)
		}
		for name, v := range info {
			merged[name] = v
		}
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return err
	}

	if err := r.objects.Put(ctx, task.ResultsPrefix+pipeline.AlignmentArtifact, aln); err != nil {
		return err
	}
	return r.objects.Put(ctx, task.ResultsPrefix+pipeline.SeqInfoArtifact, data)
}

var _ pipeline.TaskRunner = (*FixtureRunner)(nil)
