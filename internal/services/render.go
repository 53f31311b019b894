package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/go-github/v73/github"
)

const reviewTimeLayout = "January 2, 2006 at 3:04 PM UTC"

// renderEvent produces the Telegram Markdown notification for one repository
// event. Rendering is deterministic for a given event, so it is safe to
// recompute on retry. Event kinds without a dedicated format fall back to a
// generic notification.
func renderEvent(eventType, repoFullName string, payload []byte) (string, error) {
	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		if !json.Valid(payload) {
			return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		// Valid JSON of a kind go-github does not model.
		return renderGenericEvent(eventType, repoFullName), nil
	}

	switch e := event.(type) {
	case *github.PushEvent:
		return renderPushEvent(repoFullName, e), nil
	case *github.WorkflowRunEvent:
		return renderWorkflowRunEvent(repoFullName, e), nil
	case *github.PullRequestEvent:
		return renderPullRequestEvent(repoFullName, e), nil
	case *github.IssuesEvent:
		return renderIssuesEvent(repoFullName, e), nil
	case *github.PullRequestReviewEvent:
		return renderPullRequestReviewEvent(repoFullName, e), nil
	case *github.CreateEvent:
		return renderRefEvent(repoFullName, "🆕 *New %s Created*", "Created By", e.GetRefType(), e.GetRef(), e.GetSender().GetLogin()), nil
	case *github.DeleteEvent:
		return renderRefEvent(repoFullName, "🗑️ *%s Deleted*", "Deleted By", e.GetRefType(), e.GetRef(), e.GetSender().GetLogin()), nil
	case *github.IssueCommentEvent:
		return renderIssueCommentEvent(repoFullName, e), nil
	default:
		return renderGenericEvent(eventType, repoFullName), nil
	}
}

func renderPushEvent(repoFullName string, e *github.PushEvent) string {
	return fmt.Sprintf("🔔 *GitHub Push Update*\n\n"+
		"*Repository:* `%s`\n"+
		"*Branch:* `%s`\n"+
		"*Pusher:* `%s`\n"+
		"*Commits:* %d new commit(s)\n"+
		"*Head Commit:* `%s`\n"+
		"[View Commits](https://github.com/%s/commits/%s)",
		repoFullName,
		e.GetRef(),
		e.GetPusher().GetName(),
		len(e.Commits),
		e.GetHeadCommit().GetMessage(),
		repoFullName,
		e.GetRef(),
	)
}

func renderWorkflowRunEvent(repoFullName string, e *github.WorkflowRunEvent) string {
	run := e.GetWorkflowRun()
	status := run.GetStatus()
	if conclusion := run.GetConclusion(); conclusion != "" {
		status = conclusion
	}
	return fmt.Sprintf("🔔 *GitHub Workflow Update*\n\n"+
		"*Repository:* `%s`\n"+
		"*Workflow:* `%s`\n"+
		"*Status:* `%s`\n"+
		"*Triggered by:* `%s`\n"+
		"*Run:* #%d\n"+
		"*Branch:* `%s`\n"+
		"[View Run](https://github.com/%s/actions/runs/%d)",
		repoFullName,
		e.GetWorkflow().GetName(),
		status,
		run.GetActor().GetLogin(),
		run.GetRunNumber(),
		run.GetHeadBranch(),
		repoFullName,
		run.GetID(),
	)
}

func renderPullRequestEvent(repoFullName string, e *github.PullRequestEvent) string {
	pr := e.GetPullRequest()
	action := e.GetAction()

	if action == "closed" && pr.GetMerged() {
		return fmt.Sprintf("🚀 *Pull Request Merged!*\n\n"+
			"*Repository:* `%s`\n"+
			"*PR Title:* `%s`\n"+
			"*Merged by:* `%s`\n"+
			"*Source Branch:* `%s`\n"+
			"*Target Branch:* `%s`\n"+
			"[View Merge](%s)",
			repoFullName,
			pr.GetTitle(),
			pr.GetMergedBy().GetLogin(),
			pr.GetHead().GetRef(),
			pr.GetBase().GetRef(),
			pr.GetHTMLURL(),
		)
	}

	return fmt.Sprintf("🔔 *GitHub Pull Request %s*\n\n"+
		"*Repository:* `%s`\n"+
		"*PR Title:* `%s`\n"+
		"*Author:* `%s`\n"+
		"*State:* `%s`\n"+
		"*Branch:* `%s` → `%s`\n"+
		"[View Pull Request](%s)",
		capitalize(action),
		repoFullName,
		pr.GetTitle(),
		pr.GetUser().GetLogin(),
		pr.GetState(),
		pr.GetHead().GetRef(),
		pr.GetBase().GetRef(),
		pr.GetHTMLURL(),
	)
}

func renderIssuesEvent(repoFullName string, e *github.IssuesEvent) string {
	issue := e.GetIssue()
	return fmt.Sprintf("🔔 *GitHub Issue Update*\n\n"+
		"*Repository:* `%s`\n"+
		"*Issue Title:* `%s`\n"+
		"*Author:* `%s`\n"+
		"*State:* `%s`\n"+
		"[View Issue](%s)",
		repoFullName,
		issue.GetTitle(),
		issue.GetUser().GetLogin(),
		issue.GetState(),
		issue.GetHTMLURL(),
	)
}

func renderPullRequestReviewEvent(repoFullName string, e *github.PullRequestReviewEvent) string {
	review := e.GetReview()
	pr := e.GetPullRequest()

	reviewer := review.GetUser().GetLogin()
	comment := review.GetBody()
	if comment == "" {
		comment = "No additional comments."
	}
	reviewTime := review.GetSubmittedAt().UTC().Format(reviewTimeLayout)

	switch strings.ToLower(review.GetState()) {
	case "approved":
		return fmt.Sprintf("✅ *Pull Request Approved!*\n\n"+
			"*Repository:* `%s`\n"+
			"*PR Title:* `%s`\n"+
			"*Approved by:* `%s`\n"+
			"*Branch:* `%s` → `%s`\n"+
			"*Review Time:* `%s`\n"+
			"[View PR](%s)",
			repoFullName, pr.GetTitle(), reviewer,
			pr.GetHead().GetRef(), pr.GetBase().GetRef(),
			reviewTime, pr.GetHTMLURL(),
		)
	case "changes_requested":
		return fmt.Sprintf("⚠️ *Changes Requested on Pull Request*\n\n"+
			"*Repository:* `%s`\n"+
			"*PR Title:* `%s`\n"+
			"*Reviewer:* `%s`\n"+
			"*Requested Changes:* `%s`\n"+
			"*Review Time:* `%s`\n"+
			"[View PR](%s)",
			repoFullName, pr.GetTitle(), reviewer,
			comment, reviewTime, pr.GetHTMLURL(),
		)
	default:
		return fmt.Sprintf("💬 *Pull Request Review Submitted*\n\n"+
			"*Repository:* `%s`\n"+
			"*PR Title:* `%s`\n"+
			"*Reviewed by:* `%s`\n"+
			"*Review State:* `%s`\n"+
			"*Comments:* `%s`\n"+
			"*Review Time:* `%s`\n"+
			"[View PR](%s)",
			repoFullName, pr.GetTitle(), reviewer,
			strings.ToLower(review.GetState()), comment,
			reviewTime, pr.GetHTMLURL(),
		)
	}
}

func renderRefEvent(repoFullName, titleFormat, actorLabel, refType, ref, actor string) string {
	return fmt.Sprintf(titleFormat+"\n\n"+
		"*Repository:* `%s`\n"+
		"*Ref Type:* `%s`\n"+
		"*Ref Name:* `%s`\n"+
		"*%s:* `%s`\n"+
		"[View Repository](https://github.com/%s)",
		capitalize(refType),
		repoFullName,
		refType,
		ref,
		actorLabel,
		actor,
		repoFullName,
	)
}

func renderIssueCommentEvent(repoFullName string, e *github.IssueCommentEvent) string {
	return fmt.Sprintf("💬 *New Issue Comment*\n\n"+
		"*Repository:* `%s`\n"+
		"*Issue Title:* `%s`\n"+
		"*Commented By:* `%s`\n"+
		"*Comment:* `%s`\n"+
		"[View Comment](%s)",
		repoFullName,
		e.GetIssue().GetTitle(),
		e.GetComment().GetUser().GetLogin(),
		e.GetComment().GetBody(),
		e.GetComment().GetHTMLURL(),
	)
}

func renderGenericEvent(eventType, repoFullName string) string {
	return fmt.Sprintf("🔔 *GitHub Event Received*\n\n"+
		"*Repository:* `%s`\n"+
		"*Event Type:* `%s`\n"+
		"[View Repository](https://github.com/%s)",
		repoFullName,
		eventType,
		repoFullName,
	)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
