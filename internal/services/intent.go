package services

import (
	"regexp"
	"strings"
)

// intentKind tags what kind of message the user sent. Classification happens
// once, before state machine dispatch, so the transition logic never sniffs
// raw strings.
type intentKind int

const (
	intentFreeText intentKind = iota // anything else; a candidate access key when one is expected
	intentGreeting
	intentGenerate
	intentRepo
	intentList
	intentUnsubscribe
	intentCancel
	intentHelp
)

// intent is the classified form of one inbound message.
type intent struct {
	kind      intentKind
	repoOwner string // set for intentRepo and well-formed intentUnsubscribe
	repoName  string
}

var repoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// classifyMessage maps free text onto an intent. Repository names are
// normalized to lowercase, matching how GitHub treats them.
func classifyMessage(text string) intent {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	switch lower {
	case "/start", "hi", "hello":
		return intent{kind: intentGreeting}
	case "generate", "none":
		return intent{kind: intentGenerate}
	case "/list":
		return intent{kind: intentList}
	case "/cancel":
		return intent{kind: intentCancel}
	case "/help":
		return intent{kind: intentHelp}
	}

	if strings.HasPrefix(lower, "/unsubscribe") {
		in := intent{kind: intentUnsubscribe}
		fields := strings.Fields(lower)
		if len(fields) == 2 && repoPattern.MatchString(fields[1]) {
			parts := strings.SplitN(fields[1], "/", 2)
			in.repoOwner, in.repoName = parts[0], parts[1]
		}
		return in
	}

	if repoPattern.MatchString(trimmed) {
		parts := strings.SplitN(lower, "/", 2)
		return intent{kind: intentRepo, repoOwner: parts[0], repoName: parts[1]}
	}

	return intent{kind: intentFreeText}
}
