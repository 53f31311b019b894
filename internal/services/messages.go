package services

import (
	"fmt"
	"strings"

	"github-telegram-notifier/internal/models"
)

// Conversational reply texts, Telegram Markdown.
const (
	msgWelcome = "Welcome to *GitHub Notify Bot*!\n\n" +
		"Enter the GitHub repository you want to follow in the format: `owner/repository`.\n\n" +
		"Example: `agomzy/awesome-project`"

	msgIdleHint = "Send /start (or just say hi) to link a repository. /help lists all commands."

	msgHelp = "*Commands*\n" +
		"/start — link a repository to this chat\n" +
		"/list — show your subscriptions\n" +
		"/unsubscribe `owner/repository` — stop notifications for a repository\n" +
		"/cancel — abandon the current setup\n" +
		"/help — this message"

	msgInvalidRepoFormat = "❌ Invalid format! Enter your repository as `owner/repository`.\n" +
		"Example: `agomzy/awesome-project`"

	msgRepoNotFound = "❌ Repository not found! Check the repository name and try again."

	msgPromptCredential = "Great! Now enter your access key, or type `generate` to get a new one."

	msgInvalidKey = "❌ Invalid access key! Enter the key issued to this chat, " +
		"or type `generate` to get a new one."

	msgAlreadySubscribed = "ℹ️ You are already subscribed to `%s`. Send /list to see your subscriptions."

	msgAttemptsExceeded = "Too many invalid attempts — let's start over. Send /start whenever you're ready."

	msgTryAgain = "⚠️ Something went wrong on our side. Please send that again."

	msgCancelled = "Setup cancelled. Send /start to begin again."

	msgIntegrationComplete = "✅ *GitHub Integration Complete!*\n\n" +
		"Your repository `%s` is now connected.\n" +
		"*Access Key:* `%s`\n\n" +
		"🔹 *Setup instructions:*\n" +
		"1. Open your repository's settings on GitHub.\n" +
		"2. Navigate to *Webhooks* → *Add webhook*.\n" +
		"3. Set the *Payload URL* to `%s/webhooks/github?key=%s`.\n" +
		"4. Choose `application/json` as the content type.\n" +
		"5. Click *Add webhook*.\n\n" +
		"Keep the access key safe — it is shown only this once. " +
		"You will now receive notifications for `%s` here."

	msgKeyAccepted = "✅ Your access key is valid!\n\n" +
		"Your repository `%s` is now connected. Point its GitHub webhook at " +
		"`%s/webhooks/github` with your existing key appended as the `key` query parameter, " +
		"and notifications will arrive here."

	msgUnsubscribeUsage = "Usage: `/unsubscribe owner/repository`"

	msgNotSubscribed = "You are not subscribed to `%s`."

	msgUnsubscribed = "✅ Unsubscribed from `%s`. You can re-subscribe anytime with /start."

	msgNoSubscriptions = "You have no subscriptions yet. Send /start to add one."
)

// renderSubscriptionList formats a chat's subscriptions for the /list reply.
func renderSubscriptionList(subs []*models.Subscription) string {
	if len(subs) == 0 {
		return msgNoSubscriptions
	}

	var b strings.Builder
	b.WriteString("*Your subscriptions:*\n")
	for _, sub := range subs {
		fmt.Fprintf(&b, "• `%s` — %s\n", sub.RepoFullName, sub.State)
	}
	return strings.TrimRight(b.String(), "\n")
}
