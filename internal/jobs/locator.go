package jobs

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/pavi/internal/pipeline"
	"github.com/kiranshivaraju/pavi/pkg/models"
)

// Artifact names a result file of a completed job.
type Artifact string

const (
	ArtifactAlignment Artifact = "alignment"
	ArtifactSeqInfo   Artifact = "seq-info"
)

func ParseArtifact(s string) (Artifact, error) {
	switch a := Artifact(s); a {
	case ArtifactAlignment, ArtifactSeqInfo:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownArtifact, s)
}

// FileName is the object name the pipeline writes the artifact under.
func (a Artifact) FileName() string {
	switch a {
	case ArtifactAlignment:
		return pipeline.AlignmentArtifact
	case ArtifactSeqInfo:
		return pipeline.SeqInfoArtifact
	}
	return ""
}

// ContentType is the media type the artifact is served with.
func (a Artifact) ContentType() string {
	if a == ArtifactSeqInfo {
		return "application/json"
	}
	return "text/plain"
}

// Locate returns the object URI of artifact for job. A ResultLocation ending
// in "/" is a prefix holding both artifacts; otherwise it is the primary
// alignment and the other artifacts sit next to it.
func Locate(job *models.JobRecord, artifact Artifact) (string, error) {
	name := artifact.FileName()
	if name == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownArtifact, artifact)
	}
	loc := job.ResultLocation
	if loc == "" {
		return "", fmt.Errorf("%w: job %s has no result location", ErrIntegrity, job.ID)
	}

	if strings.HasSuffix(loc, "/") {
		return loc + name, nil
	}
	if artifact == ArtifactAlignment {
		return loc, nil
	}
	i := strings.LastIndex(loc, "/")
	if i < 0 {
		return "", fmt.Errorf("%w: malformed result location %q", ErrIntegrity, loc)
	}
	return loc[:i+1] + name, nil
}
