package relay

import (
	"strings"

	"go.bryk.io/mqtt-rpc/errors"
)

// renderDestination computes a destination topic from rule's
// DestinationTemplate, substituting `{prefix}` with DestinationPrefix
// and positional `+`/`#` placeholders with the corresponding segment
// (or tail, for `#`) captured from the actual source topic matched by
// SourceTopicPattern. Anything beyond this small grammar is rejected
// with an error when a message is rendered (the caller counts it against
// the rule) rather than guessing at a richer template language.
func renderDestination(rule Rule, sourceTopic string) (string, error) {
	patternSegs := strings.Split(rule.SourceTopicPattern, "/")
	sourceSegs := strings.Split(sourceTopic, "/")

	wildcards := make([]string, 0, 2)
	for i, seg := range patternSegs {
		switch seg {
		case "+":
			if i >= len(sourceSegs) {
				return "", errors.New("relay: source topic shorter than its own pattern")
			}
			wildcards = append(wildcards, sourceSegs[i])
		case "#":
			if i >= len(sourceSegs) {
				return "", errors.New("relay: source topic shorter than its own pattern")
			}
			wildcards = append(wildcards, strings.Join(sourceSegs[i:], "/"))
		}
	}

	templateSegs := strings.Split(rule.DestinationTemplate, "/")
	out := make([]string, 0, len(templateSegs))
	wIdx := 0
	for _, seg := range templateSegs {
		switch {
		case seg == "{prefix}":
			if rule.DestinationPrefix == "" {
				return "", errors.New("relay: template references {prefix} but rule has none configured")
			}
			out = append(out, rule.DestinationPrefix)
		case seg == "+" || seg == "#":
			if wIdx >= len(wildcards) {
				return "", errors.New("relay: template has more wildcard placeholders than the source pattern captured")
			}
			out = append(out, wildcards[wIdx])
			wIdx++
		case strings.ContainsAny(seg, "{}"):
			return "", errors.New("relay: unrecognized template placeholder " + seg)
		default:
			out = append(out, seg)
		}
	}
	return strings.Join(out, "/"), nil
}
