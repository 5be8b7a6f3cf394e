package pipeline_test

import (
	"encoding/json"
	"testing"

	"github.com/kiranshivaraju/pavi/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderDefault(t *testing.T) map[string]any {
	t.Helper()
	doc, err := pipeline.Default().StatesLanguage("agr-pavi-pipeline-stepfunctions-dev")
	require.NoError(t, err)

	var machine map[string]any
	require.NoError(t, json.Unmarshal(doc, &machine))
	return machine
}

func state(t *testing.T, machine map[string]any, name string) map[string]any {
	t.Helper()
	states, ok := machine["States"].(map[string]any)
	require.True(t, ok)
	s, ok := states[name].(map[string]any)
	require.True(t, ok, "state %s missing", name)
	return s
}

func TestStatesLanguage_TopLevel(t *testing.T) {
	machine := renderDefault(t)
	assert.Equal(t, pipeline.StepPrepare, machine["StartAt"])
	assert.Equal(t, float64(1800), machine["TimeoutSeconds"])
}

func TestStatesLanguage_PrepareDerivesPrefixes(t *testing.T) {
	params := state(t, renderDefault(t), pipeline.StepPrepare)["Parameters"].(map[string]any)
	assert.Equal(t,
		"States.Format('s3://agr-pavi-pipeline-stepfunctions-dev/executions/{}/work/', $$.Execution.Name)",
		params["s3_work_prefix.$"])
	assert.Equal(t,
		"States.Format('s3://agr-pavi-pipeline-stepfunctions-dev/executions/{}/results/', $$.Execution.Name)",
		params["s3_results_prefix.$"])
	assert.Equal(t, "$.seq_regions", params["input_regions.$"])
}

func TestStatesLanguage_MapState(t *testing.T) {
	m := state(t, renderDefault(t), pipeline.StepRetrieve)
	assert.Equal(t, "Map", m["Type"])
	assert.Equal(t, float64(40), m["MaxConcurrency"])
	assert.Equal(t, "$.input_regions", m["ItemsPath"])

	sel := m["ItemSelector"].(map[string]any)
	assert.Equal(t, "$$.Map.Item.Value.unique_entry_id", sel["unique_entry_id.$"])
	assert.Equal(t, "$.s3_work_prefix", sel["s3_work_prefix.$"])
	assert.Equal(t, "$.job_queue_arn", sel["job_queue_arn.$"])

	catch := m["Catch"].([]any)[0].(map[string]any)
	assert.Equal(t, pipeline.StepFail, catch["Next"])
	assert.Equal(t, []any{"States.ALL"}, catch["ErrorEquals"])

	proc := m["ItemProcessor"].(map[string]any)
	item := proc["States"].(map[string]any)[pipeline.ItemStateName(pipeline.StepRetrieve)].(map[string]any)
	assert.Equal(t, "arn:aws:states:::batch:submitJob.sync", item["Resource"])
	assert.Equal(t, true, item["End"])

	retry := item["Retry"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(2), retry["IntervalSeconds"])
	assert.Equal(t, float64(1), retry["MaxAttempts"], "one retry after the first attempt")
	assert.Equal(t, float64(2), retry["BackoffRate"])
	assert.ElementsMatch(t, []any{"Batch.JobFailed", "States.TaskFailed"}, retry["ErrorEquals"])
}

func TestStatesLanguage_AlignmentTask(t *testing.T) {
	s := state(t, renderDefault(t), pipeline.StepAlign)
	assert.Equal(t, "Task", s["Type"])
	assert.Equal(t, pipeline.StepCollect, s["Next"])
	assert.Equal(t, "$.alignment_result", s["ResultPath"])

	params := s["Parameters"].(map[string]any)
	assert.Equal(t, "pavi-alignment-sfn", params["JobDefinition"])
	assert.Equal(t, "States.Format('alignment-{}', $.execution_id)", params["JobName.$"])

	retry := s["Retry"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(5), retry["IntervalSeconds"])
}

func TestStatesLanguage_Terminals(t *testing.T) {
	machine := renderDefault(t)

	fail := state(t, machine, pipeline.StepFail)
	assert.Equal(t, "Fail", fail["Type"])
	assert.Equal(t, "PipelineError", fail["Error"])
	assert.Equal(t, "Pipeline execution failed after retries", fail["Cause"])

	assert.Equal(t, "Succeed", state(t, machine, pipeline.StepSucceed)["Type"])

	out := state(t, machine, pipeline.StepBuildOutput)["Parameters"].(map[string]any)
	assert.Equal(t, "States.Format('{}alignment-output.aln', $.s3_results_prefix)", out["result_s3_uri.$"])
}

func TestStatesLanguage_RequiresBucket(t *testing.T) {
	_, err := pipeline.Default().StatesLanguage("")
	assert.Error(t, err)
}
