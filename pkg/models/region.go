package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SeqRegion describes one sequence region to retrieve and align. Exon and
// CDS regions are passed through to the retrieval task untouched, either as
// "chr:start-end" strings or as coordinate objects.
type SeqRegion struct {
	BaseSeqName      string            `json:"base_seq_name"`
	UniqueEntryID    string            `json:"unique_entry_id"`
	SeqID            string            `json:"seq_id"`
	SeqStrand        string            `json:"seq_strand"`
	ExonSeqRegions   []json.RawMessage `json:"exon_seq_regions"`
	CDSSeqRegions    []json.RawMessage `json:"cds_seq_regions"`
	FastaFileURL     string            `json:"fasta_file_url"`
	VariantIDs       []string          `json:"variant_ids"`
	AltSeqNameSuffix *string           `json:"alt_seq_name_suffix,omitempty"`
}

// Validate checks the fields every retrieval task requires.
func (r SeqRegion) Validate() error {
	if strings.TrimSpace(r.UniqueEntryID) == "" {
		return fmt.Errorf("unique_entry_id is required")
	}
	if strings.TrimSpace(r.BaseSeqName) == "" {
		return fmt.Errorf("base_seq_name is required for %s", r.UniqueEntryID)
	}
	if strings.TrimSpace(r.SeqID) == "" {
		return fmt.Errorf("seq_id is required for %s", r.UniqueEntryID)
	}
	if r.SeqStrand != "+" && r.SeqStrand != "-" {
		return fmt.Errorf("seq_strand must be + or -, got %q for %s", r.SeqStrand, r.UniqueEntryID)
	}
	if strings.TrimSpace(r.FastaFileURL) == "" {
		return fmt.Errorf("fasta_file_url is required for %s", r.UniqueEntryID)
	}
	if len(r.ExonSeqRegions) == 0 {
		return fmt.Errorf("exon_seq_regions must not be empty for %s", r.UniqueEntryID)
	}
	return nil
}

// ValidateRegions validates a request's region list: non-empty, each region
// valid, unique_entry_id unique.
func ValidateRegions(regions []SeqRegion) error {
	if len(regions) == 0 {
		return fmt.Errorf("at least one sequence region is required")
	}
	seen := make(map[string]struct{}, len(regions))
	for i, r := range regions {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("region %d: %w", i, err)
		}
		if _, dup := seen[r.UniqueEntryID]; dup {
			return fmt.Errorf("region %d: duplicate unique_entry_id %q", i, r.UniqueEntryID)
		}
		seen[r.UniqueEntryID] = struct{}{}
	}
	return nil
}
