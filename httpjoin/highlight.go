package httpjoin

import (
	"bytes"
	"log"
	"sync/atomic"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

var (
	jsonLexer     chroma.Lexer
	jsonFormatter chroma.Formatter
	jsonStyle     *chroma.Style
)

func init() {
	jsonLexer = lexers.Get("json")
	jsonFormatter = formatters.Get("terminal256")
	jsonStyle = styles.Get("monokai")
}

var debugLogger atomic.Pointer[log.Logger]

// SetDebugLogger turns on (or, with nil, turns off) -debug-json logging of
// the join request's body before and after patching. This is the join-flow
// counterpart to highlight.SQL: same lexer/formatter/style wiring, applied
// to the JSON the HTTP join-patcher rewrites instead of a query string.
func SetDebugLogger(logger *log.Logger) {
	debugLogger.Store(logger)
}

func logDebugJSON(label string, body []byte) {
	logger := debugLogger.Load()
	if logger == nil {
		return
	}
	logger.Printf("httpjoin: %s:\n%s", label, highlightJSON(body))
}

// highlightJSON returns body with ANSI terminal syntax highlighting applied.
// On error or empty input, the original bytes are returned unchanged.
func highlightJSON(body []byte) string {
	if len(body) == 0 {
		return string(body)
	}

	iterator, err := jsonLexer.Tokenise(nil, string(body))
	if err != nil {
		return string(body)
	}

	var buf bytes.Buffer
	if err := jsonFormatter.Format(&buf, jsonStyle, iterator); err != nil {
		return string(body)
	}

	return buf.String()
}
