// Package prompt composes the model request from query, retrieved context,
// and conversation history. Composition is pure and deterministic: the same
// inputs always produce the same request.
package prompt

import (
	"strings"

	"github.com/ragpal/ragpal/internal/retrieve"
	"github.com/ragpal/ragpal/internal/session"
)

// Instruction is the base system instruction sent with every request.
const Instruction = "You are a multilingual virtual assistant. " +
	"Respond using Markdown if formatting is needed. "

// RAGInstructions precedes the user query when retrieval produced context.
// It pins the model to the provided context and the conversation history.
const RAGInstructions = "Do not justify your answers. " +
	"Forget the information you have outside of context and conversation history. " +
	"If the answer to the question is not provided in the context, " +
	"say I don't know the answer to this question in the appropriate language. " +
	"Do not mention that context is provided to the user. " +
	"Based on these instructions, and the relevant context, " +
	"answer the following question: "

// ContextPrefix opens the retrieved-context system message.
const ContextPrefix = "Relevant context: "

// DocumentSeparator joins retrieved chunks inside the context block.
const DocumentSeparator = "[NEW DOCUMENT]: "

// Request is the composed model input. Context is empty when retrieval
// produced no hits; UserText then carries the bare query.
type Request struct {
	System   string
	Context  string
	History  []session.Turn
	UserText string
}

// Chars returns the total character size of the request, the quantity the
// composition budget bounds.
func (r Request) Chars() int {
	n := len(r.System) + len(r.Context) + len(r.UserText)
	for _, turn := range r.History {
		n += len(turn.Text)
	}
	return n
}

// Composer builds Requests under a character budget.
type Composer struct {
	maxChars     int
	historyTurns int
}

// New creates a Composer keeping the last historyTurns exchanges and
// bounding the composed request to maxChars characters.
func New(maxChars, historyTurns int) *Composer {
	return &Composer{maxChars: maxChars, historyTurns: historyTurns}
}

// Compose assembles the request for query. Retrieved chunk text enters the
// context block verbatim, joined with DocumentSeparator, in result order.
// When the budget overflows, whole history exchanges are dropped oldest
// first, then the lowest-scored chunks; the query itself is never cut.
func (c *Composer) Compose(query string, result retrieve.Result, history *session.History) Request {
	var turns []session.Turn
	if history != nil {
		turns = history.LastN(c.historyTurns)
	}
	return c.ComposeTurns(query, result, turns)
}

// ComposeTurns is Compose with an explicit history window, for callers that
// carry the turns themselves instead of a server-side session.
func (c *Composer) ComposeTurns(query string, result retrieve.Result, turns []session.Turn) Request {
	hits := result.Hits
	req := c.build(query, hits, turns)
	if c.maxChars <= 0 {
		return req
	}

	// Drop oldest exchanges first. Turns come in user/assistant pairs, so
	// the window shrinks two at a time.
	for req.Chars() > c.maxChars && len(turns) > 0 {
		if len(turns) >= 2 {
			turns = turns[2:]
		} else {
			turns = nil
		}
		req = c.build(query, hits, turns)
	}

	// Then shed context, least relevant chunk first. Hits arrive sorted
	// descending, so trimming the tail keeps the best ones.
	for req.Chars() > c.maxChars && len(hits) > 0 {
		hits = hits[:len(hits)-1]
		req = c.build(query, hits, turns)
	}

	return req
}

func (c *Composer) build(query string, hits []retrieve.Hit, turns []session.Turn) Request {
	req := Request{
		System:  Instruction,
		History: turns,
	}

	if len(hits) == 0 {
		req.UserText = query
		return req
	}

	texts := make([]string, len(hits))
	for i, hit := range hits {
		texts[i] = hit.Text
	}
	req.Context = ContextPrefix + strings.Join(texts, DocumentSeparator)
	req.UserText = RAGInstructions + query
	return req
}
