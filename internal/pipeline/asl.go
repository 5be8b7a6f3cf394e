package pipeline

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

const batchSubmitJobSync = "arn:aws:states:::batch:submitJob.sync"

// Fields a Map item reads from the enclosing state rather than from the item.
var mapContextFields = map[string]bool{
	"execution_id":      true,
	"job_queue_arn":     true,
	"s3_work_prefix":    true,
	"s3_results_prefix": true,
}

type aslMachine struct {
	Comment        string              `json:"Comment,omitempty"`
	StartAt        string              `json:"StartAt"`
	TimeoutSeconds int                 `json:"TimeoutSeconds,omitempty"`
	States         map[string]aslState `json:"States"`
}

type aslState struct {
	Type           string         `json:"Type"`
	Comment        string         `json:"Comment,omitempty"`
	Resource       string         `json:"Resource,omitempty"`
	Parameters     map[string]any `json:"Parameters,omitempty"`
	ItemsPath      string         `json:"ItemsPath,omitempty"`
	ItemSelector   map[string]any `json:"ItemSelector,omitempty"`
	MaxConcurrency int            `json:"MaxConcurrency,omitempty"`
	ItemProcessor  *aslProcessor  `json:"ItemProcessor,omitempty"`
	ResultPath     string         `json:"ResultPath,omitempty"`
	Retry          []aslRetry     `json:"Retry,omitempty"`
	Catch          []aslCatch     `json:"Catch,omitempty"`
	Error          string         `json:"Error,omitempty"`
	Cause          string         `json:"Cause,omitempty"`
	Next           string         `json:"Next,omitempty"`
	End            bool           `json:"End,omitempty"`
}

type aslProcessor struct {
	ProcessorConfig map[string]string   `json:"ProcessorConfig"`
	StartAt         string              `json:"StartAt"`
	States          map[string]aslState `json:"States"`
}

type aslRetry struct {
	ErrorEquals     []string `json:"ErrorEquals"`
	IntervalSeconds int      `json:"IntervalSeconds"`
	MaxAttempts     int      `json:"MaxAttempts"`
	BackoffRate     float64  `json:"BackoffRate"`
}

type aslCatch struct {
	ErrorEquals []string `json:"ErrorEquals"`
	ResultPath  string   `json:"ResultPath,omitempty"`
	Next        string   `json:"Next"`
}

// StatesLanguage renders d as an Amazon States Language document whose
// execution prefixes live in workBucket.
func (d Definition) StatesLanguage(workBucket string) ([]byte, error) {
	if workBucket == "" {
		return nil, fmt.Errorf("work bucket is required")
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}

	layout := S3Layout(workBucket)
	machine := aslMachine{
		Comment:        d.Comment,
		StartAt:        d.Steps[0].Name,
		TimeoutSeconds: int(d.Timeout.Seconds()),
		States:         make(map[string]aslState, len(d.Steps)),
	}
	fail := d.failStep()

	for _, s := range d.Steps {
		var st aslState
		switch s.Kind {
		case KindPass:
			st = aslState{Type: "Pass", Parameters: renderParameters(s.Parameters, layout.Root), Next: s.Next}
		case KindTask:
			st = batchTaskState(s)
			st.ResultPath = s.ResultPath
			st.Catch = catchAll(fail)
			st.Next = s.Next
		case KindMap:
			item := batchTaskState(s)
			item.End = true
			st = aslState{
				Type:           "Map",
				ItemsPath:      "$.input_regions",
				ItemSelector:   mapItemSelector(s.Batch),
				MaxConcurrency: s.MaxConcurrency,
				ItemProcessor: &aslProcessor{
					ProcessorConfig: map[string]string{"Mode": "INLINE"},
					StartAt:         ItemStateName(s.Name),
					States:          map[string]aslState{ItemStateName(s.Name): item},
				},
				ResultPath: s.ResultPath,
				Catch:      catchAll(fail),
				Next:       s.Next,
			}
		case KindSucceed:
			st = aslState{Type: "Succeed"}
		case KindFail:
			st = aslState{Type: "Fail", Error: d.FailureError, Cause: d.FailureCause}
		default:
			return nil, fmt.Errorf("step %q: unsupported kind %q", s.Name, s.Kind)
		}
		machine.States[s.Name] = st
	}

	return json.MarshalIndent(machine, "", "  ")
}

func catchAll(next string) []aslCatch {
	return []aslCatch{{ErrorEquals: []string{ErrorAll}, ResultPath: "$.error", Next: next}}
}

func batchTaskState(s Step) aslState {
	b := s.Batch
	env := make([]map[string]string, 0, len(b.Environment))
	for _, name := range slices.Sorted(maps.Keys(b.Environment)) {
		v := b.Environment[name]
		if isDynamic(v) {
			env = append(env, map[string]string{"Name": name, "Value.$": v})
		} else {
			env = append(env, map[string]string{"Name": name, "Value": v})
		}
	}

	st := aslState{
		Type:     "Task",
		Resource: batchSubmitJobSync,
		Parameters: map[string]any{
			"JobDefinition": b.Definition,
			"JobName.$":     fmt.Sprintf("States.Format('%s', %s)", b.NameFormat, b.NamePath),
			"JobQueue.$":    "$.job_queue_arn",
			"ContainerOverrides": map[string]any{
				"ResourceRequirements": []map[string]string{
					{"Type": "MEMORY", "Value": strconv.Itoa(b.MemoryMiB)},
					{"Type": "VCPU", "Value": strconv.Itoa(b.VCPUs)},
				},
				"Environment": env,
			},
		},
	}
	if s.Retry != nil {
		st.Retry = []aslRetry{{
			ErrorEquals:     s.Retry.ErrorEquals,
			IntervalSeconds: int(s.Retry.Interval.Seconds()),
			MaxAttempts:     s.Retry.Retries(),
			BackoffRate:     s.Retry.BackoffRate,
		}}
	}
	return st
}

// mapItemSelector copies the item fields the job reads plus the shared
// execution fields from the enclosing state.
func mapItemSelector(b *BatchJob) map[string]any {
	sel := make(map[string]any)
	add := func(path string) {
		field, ok := strings.CutPrefix(path, "$.")
		if !ok {
			return
		}
		if mapContextFields[field] {
			sel[field+".$"] = path
		} else {
			sel[field+".$"] = "$$.Map.Item.Value." + field
		}
	}
	for _, v := range b.Environment {
		add(v)
	}
	add(b.NamePath)
	add("$.job_queue_arn")
	return sel
}

func renderParameters(params map[string]string, root string) map[string]any {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		v = strings.ReplaceAll(v, "{root}", strings.TrimSuffix(root, "/"))
		if isDynamic(v) {
			out[k+".$"] = v
		} else {
			out[k] = v
		}
	}
	return out
}

func isDynamic(v string) bool {
	return strings.HasPrefix(v, "$") || strings.HasPrefix(v, "States.")
}
