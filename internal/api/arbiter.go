package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ShayCichocki/specfit/internal/match"
)

const arbiterSystem = `You judge whether two validation rules enforce the same constraint on a data field.
The first rule comes from a specification. The second was found in generated code.
Treat rules as equivalent when every value one rejects the other also rejects.

Respond with only a JSON object:
{"equivalent": true or false, "confidence": number between 0 and 1, "reason": "one sentence"}`

// arbiterMaxTokens bounds the verdict reply.
const arbiterMaxTokens = 256

// Arbiter asks a Claude model whether two rules are equivalent.
type Arbiter struct {
	client *Client
}

var _ match.Arbiter = (*Arbiter)(nil)

// NewArbiter creates an arbiter backed by client.
func NewArbiter(client *Client) *Arbiter {
	return &Arbiter{client: client}
}

// Judge returns the model's verdict on expected vs found.
func (a *Arbiter) Judge(ctx context.Context, expected, found string) (match.Verdict, error) {
	prompt := fmt.Sprintf("Specification rule: %s\nImplemented rule: %s", expected, found)
	text, err := a.client.Complete(ctx, arbiterSystem, prompt, arbiterMaxTokens)
	if err != nil {
		return match.Verdict{}, fmt.Errorf("arbiter call: %w", err)
	}
	return parseVerdict(text)
}

// parseVerdict reads the first JSON object in a reply.
func parseVerdict(text string) (match.Verdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return match.Verdict{}, errors.New("arbiter reply has no JSON verdict")
	}
	obj := text[start : end+1]
	if !gjson.Valid(obj) {
		return match.Verdict{}, errors.New("arbiter reply has malformed JSON verdict")
	}

	r := gjson.Parse(obj)
	eq := r.Get("equivalent")
	if eq.Type != gjson.True && eq.Type != gjson.False {
		return match.Verdict{}, errors.New("arbiter verdict is missing \"equivalent\"")
	}

	v := match.Verdict{Equivalent: eq.Bool(), Reason: r.Get("reason").String()}
	if c := r.Get("confidence"); c.Exists() {
		v.Confidence = min(max(c.Float(), 0), 1)
	} else if v.Equivalent {
		v.Confidence = 1
	}
	return v, nil
}
