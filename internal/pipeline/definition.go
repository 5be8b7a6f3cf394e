// Package pipeline describes the PAVI stage graph: parallel sequence retrieval,
// alignment and result collection. The same Definition is rendered to Amazon
// States Language for Step Functions and run in-process by Executor.
package pipeline

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kiranshivaraju/pavi/pkg/models"
)

// Task error codes understood by retry policies.
const (
	ErrorBatchJobFailed = "Batch.JobFailed"
	ErrorTaskFailed     = "States.TaskFailed"
	ErrorTimeout        = "States.Timeout"
	ErrorAll            = "States.ALL"
	ErrorPipeline       = "PipelineError"
)

// Artifact file names written to the results prefix.
const (
	AlignmentArtifact = "alignment-output.aln"
	SeqInfoArtifact   = "aligned_seq_info.json"
)

// Step names. They double as ASL state names.
const (
	StepPrepare          = "ValidateInput"
	StepRetrieve         = "RetrieveSequences"
	StepPrepareAlignment = "PrepareAlignmentInput"
	StepAlign            = "AlignSequences"
	StepCollect          = "CollectResults"
	StepBuildOutput      = "BuildOutput"
	StepSucceed          = "PipelineSucceeded"
	StepFail             = "PipelineFailed"
)

type StepKind string

const (
	KindPass    StepKind = "Pass"
	KindTask    StepKind = "Task"
	KindMap     StepKind = "Map"
	KindSucceed StepKind = "Succeed"
	KindFail    StepKind = "Fail"
)

// RetryPolicy bounds how often a failing task runs. MaxAttempts counts every
// run including the first, and the n-th retry waits
// Interval * BackoffRate^(n-1).
type RetryPolicy struct {
	ErrorEquals []string
	MaxAttempts int
	Interval    time.Duration
	BackoffRate float64
}

// Retries is the number of runs after the first. This is the value ASL calls
// MaxAttempts.
func (p RetryPolicy) Retries() int {
	return max(p.MaxAttempts-1, 0)
}

// Matches reports whether code is retried by p.
func (p RetryPolicy) Matches(code string) bool {
	return slices.Contains(p.ErrorEquals, code) || slices.Contains(p.ErrorEquals, ErrorAll)
}

// Delay returns the wait before retry n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	d := float64(p.Interval)
	for i := 1; i < n; i++ {
		d *= p.BackoffRate
	}
	return time.Duration(d)
}

// Step is one node of the graph. Task and Map steps that fail after retries
// route to the definition's failure terminal.
type Step struct {
	Name           string
	Kind           StepKind
	Stage          models.JobStage
	Retry          *RetryPolicy
	MaxConcurrency int
	Batch          *BatchJob
	// Parameters shape a Pass step's output. Values starting with "$" or
	// "States." are paths or intrinsic functions; "{root}" is replaced by the
	// layout root when rendering.
	Parameters map[string]string
	ResultPath string
	Next       string
}

// BatchJob describes the AWS Batch job a Task (or Map iteration) submits.
// Environment values starting with "$" are JSONPath references into the state input.
type BatchJob struct {
	Definition  string
	NameFormat  string
	NamePath    string
	MemoryMiB   int
	VCPUs       int
	Environment map[string]string
}

// Definition is the ordered stage graph plus whole-execution settings.
type Definition struct {
	Comment      string
	Steps        []Step
	Timeout      time.Duration
	FailureError string
	FailureCause string
}

var retryableTaskErrors = []string{ErrorBatchJobFailed, ErrorTaskFailed}

// Default returns the PAVI pipeline: retrieval fans out over regions with at
// most 40 tasks in flight, every compute step retries twice with exponential
// backoff, and the whole execution times out after 30 minutes.
func Default() Definition {
	return Definition{
		Comment: "PAVI sequence retrieval and alignment pipeline",
		Steps: []Step{
			{
				Name:  StepPrepare,
				Kind:  KindPass,
				Stage: models.JobStageInitializing,
				Parameters: map[string]string{
					"execution_id":      "$$.Execution.Name",
					"input_regions":     "$.seq_regions",
					"job_queue_arn":     "$.job_queue_arn",
					"s3_work_prefix":    "States.Format('{root}/executions/{}/work/', $$.Execution.Name)",
					"s3_results_prefix": "States.Format('{root}/executions/{}/results/', $$.Execution.Name)",
				},
				Next: StepRetrieve,
			},
			{
				Name:           StepRetrieve,
				Kind:           KindMap,
				Stage:          models.JobStageSequenceRetrieval,
				MaxConcurrency: 40,
				Batch: &BatchJob{
					Definition: "pavi-seq-retrieval-sfn",
					NameFormat: "seq-retrieval-{}",
					NamePath:   "$.unique_entry_id",
					MemoryMiB:  500,
					VCPUs:      1,
					Environment: map[string]string{
						"UNIQUE_ENTRY_ID":  "$.unique_entry_id",
						"BASE_SEQ_NAME":    "$.base_seq_name",
						"SEQ_ID":           "$.seq_id",
						"SEQ_STRAND":       "$.seq_strand",
						"FASTA_FILE_URL":   "$.fasta_file_url",
						"S3_OUTPUT_PREFIX": "$.s3_work_prefix",
						"OUTPUT_TYPE":      "protein",
					},
				},
				Retry: &RetryPolicy{
					ErrorEquals: retryableTaskErrors,
					MaxAttempts: 2,
					Interval:    2 * time.Second,
					BackoffRate: 2,
				},
				ResultPath: "$.retrieval_results",
				Next:       StepPrepareAlignment,
			},
			{
				Name:  StepPrepareAlignment,
				Kind:  KindPass,
				Stage: models.JobStageAlignment,
				Parameters: map[string]string{
					"execution_id":      "$.execution_id",
					"s3_work_prefix":    "$.s3_work_prefix",
					"s3_results_prefix": "$.s3_results_prefix",
					"job_queue_arn":     "$.job_queue_arn",
				},
				Next: StepAlign,
			},
			{
				Name:  StepAlign,
				Kind:  KindTask,
				Stage: models.JobStageAlignment,
				Batch: &BatchJob{
					Definition: "pavi-alignment-sfn",
					NameFormat: "alignment-{}",
					NamePath:   "$.execution_id",
					MemoryMiB:  2048,
					VCPUs:      2,
					Environment: map[string]string{
						"S3_WORK_PREFIX":    "$.s3_work_prefix",
						"S3_RESULTS_PREFIX": "$.s3_results_prefix",
					},
				},
				Retry: &RetryPolicy{
					ErrorEquals: retryableTaskErrors,
					MaxAttempts: 2,
					Interval:    5 * time.Second,
					BackoffRate: 2,
				},
				ResultPath: "$.alignment_result",
				Next:       StepCollect,
			},
			{
				Name:  StepCollect,
				Kind:  KindTask,
				Stage: models.JobStageCollectingResults,
				Batch: &BatchJob{
					Definition: "pavi-seq-retrieval-sfn",
					NameFormat: "collect-seqinfo-{}",
					NamePath:   "$.execution_id",
					MemoryMiB:  500,
					VCPUs:      1,
					Environment: map[string]string{
						"S3_WORK_PREFIX":    "$.s3_work_prefix",
						"S3_RESULTS_PREFIX": "$.s3_results_prefix",
						"TASK_TYPE":         "collect_seq_info",
					},
				},
				Retry: &RetryPolicy{
					ErrorEquals: retryableTaskErrors,
					MaxAttempts: 2,
					Interval:    2 * time.Second,
					BackoffRate: 2,
				},
				ResultPath: "$.collect_result",
				Next:       StepBuildOutput,
			},
			{
				Name:  StepBuildOutput,
				Kind:  KindPass,
				Stage: models.JobStageCollectingResults,
				Parameters: map[string]string{
					"result_s3_uri": "States.Format('{}" + AlignmentArtifact + "', $.s3_results_prefix)",
				},
				Next: StepSucceed,
			},
			{Name: StepSucceed, Kind: KindSucceed, Stage: models.JobStageDone},
			{Name: StepFail, Kind: KindFail, Stage: models.JobStageError},
		},
		Timeout:      30 * time.Minute,
		FailureError: ErrorPipeline,
		FailureCause: "Pipeline execution failed after retries",
	}
}

// Step returns the step named name.
func (d Definition) Step(name string) (Step, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// StageOf maps a state name, including a Map step's inner job state, to the
// job stage it represents.
func (d Definition) StageOf(state string) (models.JobStage, bool) {
	for _, s := range d.Steps {
		if s.Name == state || (s.Kind == KindMap && ItemStateName(s.Name) == state) {
			return s.Stage, true
		}
	}
	return "", false
}

// ItemStateName is the name of the job state run for each item of a Map step.
func ItemStateName(mapStep string) string {
	return mapStep + "Job"
}

// Validate checks the graph is well formed: unique names, every Next target
// exists, exactly one Succeed and one Fail terminal.
func (d Definition) Validate() error {
	if len(d.Steps) == 0 {
		return fmt.Errorf("pipeline has no steps")
	}
	names := make(map[string]bool, len(d.Steps))
	var succeeds, fails int
	for _, s := range d.Steps {
		if names[s.Name] {
			return fmt.Errorf("duplicate step %q", s.Name)
		}
		names[s.Name] = true
		switch s.Kind {
		case KindSucceed:
			succeeds++
		case KindFail:
			fails++
		case KindMap:
			if s.MaxConcurrency <= 0 {
				return fmt.Errorf("map step %q needs a positive MaxConcurrency", s.Name)
			}
			fallthrough
		case KindTask:
			if s.Batch == nil {
				return fmt.Errorf("step %q has no batch job", s.Name)
			}
		}
	}
	if succeeds != 1 || fails != 1 {
		return fmt.Errorf("pipeline needs exactly one success and one failure terminal")
	}
	for _, s := range d.Steps {
		if s.Kind == KindSucceed || s.Kind == KindFail {
			continue
		}
		if !names[s.Next] {
			return fmt.Errorf("step %q: next step %q does not exist", s.Name, s.Next)
		}
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("pipeline timeout must be positive")
	}
	return nil
}

func (d Definition) failStep() string {
	for _, s := range d.Steps {
		if s.Kind == KindFail {
			return s.Name
		}
	}
	return StepFail
}

// Tuned returns a copy of d with the execution timeout and the fan-out limit
// of every map step replaced. Non-positive values keep the current setting.
func (d Definition) Tuned(timeout time.Duration, mapConcurrency int) Definition {
	steps := slices.Clone(d.Steps)
	if mapConcurrency > 0 {
		for i := range steps {
			if steps[i].Kind == KindMap {
				steps[i].MaxConcurrency = mapConcurrency
			}
		}
	}
	d.Steps = steps
	if timeout > 0 {
		d.Timeout = timeout
	}
	return d
}

// Layout derives per-execution object prefixes under a root such as
// "s3://bucket" or "file:///var/pavi/results".
type Layout struct {
	Root string
}

// S3Layout roots execution prefixes in an S3 bucket.
func S3Layout(bucket string) Layout {
	return Layout{Root: "s3://" + bucket}
}

func (l Layout) base(executionName string) string {
	return strings.TrimSuffix(l.Root, "/") + "/executions/" + executionName
}

// WorkPrefix is where intermediate task output for executionName lives.
func (l Layout) WorkPrefix(executionName string) string {
	return l.base(executionName) + "/work/"
}

// ResultsPrefix is where final artifacts for executionName are written.
func (l Layout) ResultsPrefix(executionName string) string {
	return l.base(executionName) + "/results/"
}

// ResultURI is the address reported as result_s3_uri on success.
func (l Layout) ResultURI(executionName string) string {
	return l.ResultsPrefix(executionName) + AlignmentArtifact
}
