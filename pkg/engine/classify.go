package engine

import (
	"strings"
	"unicode/utf8"
)

// Adapter exit codes with a fixed public meaning.
const (
	AdapterExitDuplicate     = 2
	AdapterExitConfiguration = 10
	AdapterExitExternalAPI   = 11
	AdapterExitFilesystem    = 12
	AdapterExitDatabase      = 13
)

type fingerprint struct {
	kind    Kind
	phrases []string
}

// Checked in order; phrases are lower case.
var fingerprints = []fingerprint{
	{
		kind: KindStorage,
		phrases: []string{
			"database is locked",
			"database disk image is malformed",
			"unable to open database file",
			"file is not a database",
			"sqlite3.",
		},
	},
	{
		kind: KindStorage,
		phrases: []string{
			"errno 13",
			"permission denied",
			"access is denied",
			"eacces",
			"operation not permitted",
			"permissionerror",
		},
	},
	{
		kind: KindConfiguration,
		phrases: []string{
			"jsondecodeerror",
			"expecting value",
			"parse error",
			"config.json",
			"invalid config",
		},
	},
}

// Classify maps a terminated process's exit code and stderr onto the
// public taxonomy. It is total: every input yields exactly one Kind.
func Classify(code int, stderr string) Kind {
	switch code {
	case 0:
		return KindSuccess
	case AdapterExitConfiguration:
		return KindConfiguration
	case AdapterExitExternalAPI:
		return KindExternalService
	case AdapterExitFilesystem, AdapterExitDatabase:
		return KindStorage
	}

	text := strings.ToLower(stderr)
	for _, fp := range fingerprints {
		for _, p := range fp.phrases {
			if strings.Contains(text, p) {
				return fp.kind
			}
		}
	}
	return KindUnclassified
}

// Outcome is the terminal result of one run.
type Outcome struct {
	Kind        Kind   `json:"kind"`
	ExitCode    int    `json:"exit_code"`
	Message     string `json:"message"`
	AdapterCode *int   `json:"adapter_code,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
}

// Success reports whether the outcome is a success.
func (o Outcome) Success() bool {
	return o.Kind == KindSuccess
}

// maxStderrExcerpt bounds the diagnostic text carried in an Outcome.
const maxStderrExcerpt = 4000

// OutcomeFromError converts a run error into an Outcome. A nil error is a
// success with the given message.
func OutcomeFromError(err error, successMessage string) Outcome {
	if err == nil {
		return Outcome{Kind: KindSuccess, ExitCode: ExitSuccess, Message: successMessage}
	}

	out := Outcome{
		Kind:    KindOf(err),
		Message: err.Error(),
	}
	out.ExitCode = out.Kind.ExitCode()

	if re, ok := asRunError(err); ok {
		out.AdapterCode = re.AdapterCode
		out.Stderr = excerpt(re.Stderr)
	}
	return out
}

// Text renders the single user-facing message, with diagnostics appended.
func (o Outcome) Text() string {
	if o.Stderr == "" {
		return o.Message
	}
	if strings.Contains(o.Message, o.Stderr) {
		return o.Message
	}
	return o.Message + "\n" + o.Stderr
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxStderrExcerpt {
		return s
	}
	start := len(s) - maxStderrExcerpt
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return "..." + s[start:]
}
