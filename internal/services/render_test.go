package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEvent_Push(t *testing.T) {
	payload := `{
		"ref": "refs/heads/main",
		"repository": {"full_name": "octocat/hello-world"},
		"pusher": {"name": "octocat"},
		"commits": [{"id": "a"}, {"id": "b"}],
		"head_commit": {"message": "fix the flaky test"}
	}`

	text, err := renderEvent("push", "octocat/hello-world", []byte(payload))
	require.NoError(t, err)

	assert.Contains(t, text, "GitHub Push Update")
	assert.Contains(t, text, "*Branch:* `refs/heads/main`")
	assert.Contains(t, text, "*Pusher:* `octocat`")
	assert.Contains(t, text, "*Commits:* 2 new commit(s)")
	assert.Contains(t, text, "fix the flaky test")
	assert.Contains(t, text, "https://github.com/octocat/hello-world/commits/refs/heads/main")
}

func TestRenderEvent_WorkflowRun(t *testing.T) {
	payload := `{
		"action": "completed",
		"workflow": {"name": "CI"},
		"workflow_run": {
			"id": 123,
			"run_number": 7,
			"status": "completed",
			"conclusion": "success",
			"head_branch": "main",
			"actor": {"login": "octocat"}
		},
		"repository": {"full_name": "octocat/hello-world"}
	}`

	text, err := renderEvent("workflow_run", "octocat/hello-world", []byte(payload))
	require.NoError(t, err)

	assert.Contains(t, text, "GitHub Workflow Update")
	assert.Contains(t, text, "*Workflow:* `CI`")
	assert.Contains(t, text, "*Status:* `success`")
	assert.Contains(t, text, "*Run:* #7")
	assert.Contains(t, text, "https://github.com/octocat/hello-world/actions/runs/123")
}

func TestRenderEvent_WorkflowRunWithoutConclusion(t *testing.T) {
	payload := `{
		"action": "requested",
		"workflow": {"name": "CI"},
		"workflow_run": {"id": 1, "run_number": 1, "status": "in_progress", "head_branch": "main"},
		"repository": {"full_name": "octocat/hello-world"}
	}`

	text, err := renderEvent("workflow_run", "octocat/hello-world", []byte(payload))
	require.NoError(t, err)
	assert.Contains(t, text, "*Status:* `in_progress`")
}

func TestRenderEvent_PullRequestMerged(t *testing.T) {
	payload := `{
		"action": "closed",
		"pull_request": {
			"title": "Add retry logic",
			"merged": true,
			"merged_by": {"login": "octocat"},
			"user": {"login": "contributor"},
			"state": "closed",
			"head": {"ref": "feature/retries"},
			"base": {"ref": "main"},
			"html_url": "https://github.com/octocat/hello-world/pull/5"
		},
		"repository": {"full_name": "octocat/hello-world"}
	}`

	text, err := renderEvent("pull_request", "octocat/hello-world", []byte(payload))
	require.NoError(t, err)

	assert.Contains(t, text, "Pull Request Merged!")
	assert.Contains(t, text, "*Merged by:* `octocat`")
	assert.Contains(t, text, "`feature/retries`")
	assert.Contains(t, text, "https://github.com/octocat/hello-world/pull/5")
}

func TestRenderEvent_PullRequestOpened(t *testing.T) {
	payload := `{
		"action": "opened",
		"pull_request": {
			"title": "Add retry logic",
			"merged": false,
			"user": {"login": "contributor"},
			"state": "open",
			"head": {"ref": "feature/retries"},
			"base": {"ref": "main"},
			"html_url": "https://github.com/octocat/hello-world/pull/5"
		},
		"repository": {"full_name": "octocat/hello-world"}
	}`

	text, err := renderEvent("pull_request", "octocat/hello-world", []byte(payload))
	require.NoError(t, err)

	assert.Contains(t, text, "GitHub Pull Request Opened")
	assert.Contains(t, text, "*Author:* `contributor`")
	assert.Contains(t, text, "`feature/retries` → `main`")
}

func TestRenderEvent_Issues(t *testing.T) {
	payload := `{
		"action": "opened",
		"issue": {
			"title": "Bot stops responding",
			"state": "open",
			"user": {"login": "reporter"},
			"html_url": "https://github.com/octocat/hello-world/issues/9"
		},
		"repository": {"full_name": "octocat/hello-world"}
	}`

	text, err := renderEvent("issues", "octocat/hello-world", []byte(payload))
	require.NoError(t, err)

	assert.Contains(t, text, "GitHub Issue Update")
	assert.Contains(t, text, "*Issue Title:* `Bot stops responding`")
	assert.Contains(t, text, "*Author:* `reporter`")
}

func TestRenderEvent_ReviewApproved(t *testing.T) {
	payload := `{
		"action": "submitted",
		"review": {
			"state": "approved",
			"body": "",
			"user": {"login": "reviewer"},
			"submitted_at": "2024-05-04T15:04:05Z"
		},
		"pull_request": {
			"title": "Add retry logic",
			"head": {"ref": "feature/retries"},
			"base": {"ref": "main"},
			"html_url": "https://github.com/octocat/hello-world/pull/5"
		},
		"repository": {"full_name": "octocat/hello-world"}
	}`

	text, err := renderEvent("pull_request_review", "octocat/hello-world", []byte(payload))
	require.NoError(t, err)

	assert.Contains(t, text, "Pull Request Approved!")
	assert.Contains(t, text, "*Approved by:* `reviewer`")
	assert.Contains(t, text, "*Review Time:* `May 4, 2024 at 3:04 PM UTC`")
}

func TestRenderEvent_ReviewChangesRequested(t *testing.T) {
	payload := `{
		"action": "submitted",
		"review": {
			"state": "changes_requested",
			"body": "Please add a test",
			"user": {"login": "reviewer"},
			"submitted_at": "2024-05-04T15:04:05Z"
		},
		"pull_request": {
			"title": "Add retry logic",
			"head": {"ref": "feature/retries"},
			"base": {"ref": "main"},
			"html_url": "https://github.com/octocat/hello-world/pull/5"
		},
		"repository": {"full_name": "octocat/hello-world"}
	}`

	text, err := renderEvent("pull_request_review", "octocat/hello-world", []byte(payload))
	require.NoError(t, err)

	assert.Contains(t, text, "Changes Requested on Pull Request")
	assert.Contains(t, text, "*Requested Changes:* `Please add a test`")
}

func TestRenderEvent_TagCreated(t *testing.T) {
	payload := `{
		"ref": "v1.2.0",
		"ref_type": "tag",
		"sender": {"login": "octocat"},
		"repository": {"full_name": "octocat/hello-world"}
	}`

	text, err := renderEvent("create", "octocat/hello-world", []byte(payload))
	require.NoError(t, err)

	assert.Contains(t, text, "New Tag Created")
	assert.Contains(t, text, "*Ref Name:* `v1.2.0`")
	assert.Contains(t, text, "*Created By:* `octocat`")
}

func TestRenderEvent_BranchDeleted(t *testing.T) {
	payload := `{
		"ref": "feature/old",
		"ref_type": "branch",
		"sender": {"login": "octocat"},
		"repository": {"full_name": "octocat/hello-world"}
	}`

	text, err := renderEvent("delete", "octocat/hello-world", []byte(payload))
	require.NoError(t, err)

	assert.Contains(t, text, "Branch Deleted")
	assert.Contains(t, text, "*Deleted By:* `octocat`")
}

func TestRenderEvent_IssueComment(t *testing.T) {
	payload := `{
		"action": "created",
		"issue": {"title": "Bot stops responding"},
		"comment": {
			"body": "Same here",
			"user": {"login": "commenter"},
			"html_url": "https://github.com/octocat/hello-world/issues/9#issuecomment-1"
		},
		"repository": {"full_name": "octocat/hello-world"}
	}`

	text, err := renderEvent("issue_comment", "octocat/hello-world", []byte(payload))
	require.NoError(t, err)

	assert.Contains(t, text, "New Issue Comment")
	assert.Contains(t, text, "*Commented By:* `commenter`")
	assert.Contains(t, text, "*Comment:* `Same here`")
}

func TestRenderEvent_UnmodeledEventFallsBackToGeneric(t *testing.T) {
	text, err := renderEvent("custom_event", "octocat/hello-world", []byte(`{"some":"payload"}`))
	require.NoError(t, err)

	assert.Contains(t, text, "GitHub Event Received")
	assert.Contains(t, text, "*Event Type:* `custom_event`")
}

func TestRenderEvent_ModeledEventWithoutDedicatedFormat(t *testing.T) {
	payload := `{"action": "started", "repository": {"full_name": "octocat/hello-world"}}`

	text, err := renderEvent("watch", "octocat/hello-world", []byte(payload))
	require.NoError(t, err)
	assert.Contains(t, text, "*Event Type:* `watch`")
}

func TestRenderEvent_InvalidJSON(t *testing.T) {
	_, err := renderEvent("custom_event", "octocat/hello-world", []byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}
