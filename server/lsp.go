package server

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/stackcheck/pkg/asm"
	"github.com/chazu/stackcheck/pkg/opcode"
	"github.com/chazu/stackcheck/pkg/verify"
)

const (
	lspName    = "stackcheck-lsp"
	lspVersion = "0.1.0"
)

// LspServer reports assembly and verification errors to editors as
// diagnostics, and documents mnemonics on hover.
type LspServer struct {
	pool *WorkerPool
	reg  *opcode.Registry
	opts []verify.Option
	docs documents

	handler protocol.Handler
	server  *glspserver.Server
}

// documents holds the open buffers by URI.
type documents struct {
	mu    sync.RWMutex
	texts map[protocol.DocumentUri]string
}

func (d *documents) set(uri protocol.DocumentUri, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.texts == nil {
		d.texts = make(map[protocol.DocumentUri]string)
	}
	d.texts[uri] = text
}

func (d *documents) get(uri protocol.DocumentUri) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	text, ok := d.texts[uri]
	return text, ok
}

func (d *documents) drop(uri protocol.DocumentUri) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.texts, uri)
}

// NewLSP creates a language server verifying against reg (opcode.Default
// when nil). opts are applied to every unit before its .entry directive.
func NewLSP(reg *opcode.Registry, opts ...verify.Option) *LspServer {
	if reg == nil {
		reg = opcode.Default
	}
	s := &LspServer{pool: NewWorkerPool(1), reg: reg, opts: opts}
	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: func(*glsp.Context, *protocol.InitializedParams) error { return nil },
		Shutdown:    s.shutdown,
		SetTrace:    func(*glsp.Context, *protocol.SetTraceParams) error { return nil },

		TextDocumentDidOpen:    s.didOpen,
		TextDocumentDidChange:  s.didChange,
		TextDocumentDidClose:   s.didClose,
		TextDocumentCompletion: s.completion,
		TextDocumentHover:      s.hoverAt,
		TextDocumentDefinition: s.definition,
	}
	s.server = glspserver.NewServer(&s.handler, lspName, false)
	return s
}

// Run serves on stdio until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

func (s *LspServer) initialize(_ *glsp.Context, _ *protocol.InitializeParams) (any, error) {
	log.Infof("%s initializing (catalogue v%d)", lspName, s.reg.Version())

	caps := s.handler.CreateServerCapabilities()
	full := protocol.TextDocumentSyncKindFull
	caps.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &full,
	}
	caps.CompletionProvider = &protocol.CompletionOptions{}
	caps.HoverProvider = true
	caps.DefinitionProvider = true

	version := lspVersion
	return protocol.InitializeResult{
		Capabilities: caps,
		ServerInfo:   &protocol.InitializeResultServerInfo{Name: lspName, Version: &version},
	}, nil
}

func (s *LspServer) shutdown(*glsp.Context) error {
	s.pool.Stop()
	return nil
}

func (s *LspServer) didOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	doc := params.TextDocument
	s.docs.set(doc.URI, doc.Text)
	s.publishDiagnostics(ctx, doc.URI, doc.Text)
	return nil
}

// didChange expects full-document sync, so only the final change matters.
func (s *LspServer) didChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	n := len(params.ContentChanges)
	if n == 0 {
		return nil
	}
	whole, ok := params.ContentChanges[n-1].(protocol.TextDocumentContentChangeEventWhole)
	if !ok {
		log.Warningf("ignoring incremental change to %s", params.TextDocument.URI)
		return nil
	}
	s.docs.set(params.TextDocument.URI, whole.Text)
	s.publishDiagnostics(ctx, params.TextDocument.URI, whole.Text)
	return nil
}

func (s *LspServer) didClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	s.docs.drop(uri)
	s.notifyDiagnostics(ctx, uri, []protocol.Diagnostic{})
	return nil
}

func (s *LspServer) completion(_ *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.docs.get(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	if prefix := extractPrefix(text, params.Position); prefix != "" {
		return s.complete(prefix), nil
	}
	return nil, nil
}

func (s *LspServer) hoverAt(_ *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.docs.get(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	if word := extractWord(text, params.Position); word != "" {
		return s.hover(word), nil
	}
	return nil, nil
}

// definition jumps from a label operand to the line defining it.
func (s *LspServer) definition(_ *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.docs.get(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	if line, found := findLabel(text, int(params.Position.Line), word); found {
		return []protocol.Location{{URI: uri, Range: lineRange(line)}}, nil
	}
	return nil, nil
}

// complete lists mnemonics in the registry starting with prefix.
func (s *LspServer) complete(prefix string) []protocol.CompletionItem {
	upper := strings.ToUpper(prefix)
	kind := protocol.CompletionItemKindKeyword

	var items []protocol.CompletionItem
	for _, op := range s.reg.Opcodes() {
		info, _ := s.reg.Lookup(int(op))
		if strings.HasPrefix(info.Name, upper) {
			detail := describeOpcode(info)
			items = append(items, protocol.CompletionItem{Label: info.Name, Kind: &kind, Detail: &detail})
		}
	}
	return items
}

// hover documents the mnemonic under the cursor.
func (s *LspServer) hover(word string) *protocol.Hover {
	op, ok := opcode.Parse(strings.ToUpper(word))
	if !ok {
		return nil
	}

	info, known := s.reg.Lookup(int(op))
	if !known {
		info, _ = opcode.GetInfo(op)
	}
	md := fmt.Sprintf("**%s** (code %d)\n\n", info.Name, op)
	switch {
	case !known:
		md += fmt.Sprintf("Not available in catalogue v%d; added in v%d.", s.reg.Version(), info.Since)
	case op.IsBranch():
		md += describeOpcode(info) + "\n\nBranches to an absolute word position."
	case op.IsTerminator():
		md += describeOpcode(info) + "\n\nControl does not fall through."
	default:
		md += describeOpcode(info)
	}
	return &protocol.Hover{Contents: protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: md}}
}

func describeOpcode(info opcode.Info) string {
	effect := info.Effect.String()
	if _, ok := info.Effect.(opcode.ParametricPop); ok {
		effect = "pops <operand> slots"
	}
	return fmt.Sprintf("arity %d, stack effect %s, since v%d", info.Arity, effect, info.Since)
}

// diagnose assembles and verifies text, returning one diagnostic per
// failing unit, or one for the first assembly error.
func (s *LspServer) diagnose(name, text string) []protocol.Diagnostic {
	units, err := asm.Assemble(s.reg, name, text)
	if err != nil {
		line := 0
		msg := err.Error()
		if aerr, ok := err.(*asm.Error); ok {
			line = aerr.Line - 1
			msg = aerr.Msg
		}
		return []protocol.Diagnostic{newDiagnostic(line, msg)}
	}

	diagnostics := []protocol.Diagnostic{}
	for _, u := range units {
		res := verify.VerifyStream(s.reg, u.Code, u.Options(s.opts...)...)
		if res.OK {
			continue
		}
		line := u.Line(res.Err.Offset) - 1
		if line < 0 {
			line = 0
		}
		diagnostics = append(diagnostics, newDiagnostic(line, fmt.Sprintf("%s: %v", u.Name, res.Err)))
	}
	return diagnostics
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	name := strings.TrimSuffix(path.Base(string(uri)), path.Ext(string(uri)))
	result, err := s.pool.Do(context.Background(), func() any {
		return s.diagnose(name, text)
	})
	if err != nil {
		log.Errorf("diagnostics for %s: %v", uri, err)
		return
	}

	s.notifyDiagnostics(ctx, uri, result.([]protocol.Diagnostic))
}

func (s *LspServer) notifyDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, diags []protocol.Diagnostic) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diags,
	})
}

func newDiagnostic(line int, msg string) protocol.Diagnostic {
	sev, src := protocol.DiagnosticSeverityError, lspName
	return protocol.Diagnostic{Range: lineRange(line), Severity: &sev, Source: &src, Message: msg}
}

func lineRange(line int) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(line), Character: 0},
		End:   protocol.Position{Line: protocol.UInteger(line + 1), Character: 0},
	}
}

func isWordChar(ch byte) bool {
	r := rune(ch)
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// wordAt returns the line under pos with the bounds of the identifier
// touching the cursor. start == end when there is none.
func wordAt(text string, pos protocol.Position) (line string, start, cursor, end int) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return "", 0, 0, 0
	}
	line = lines[pos.Line]
	cursor = min(int(pos.Character), len(line))
	start, end = cursor, cursor
	for start > 0 && isWordChar(line[start-1]) {
		start--
	}
	for end < len(line) && isWordChar(line[end]) {
		end++
	}
	return line, start, cursor, end
}

// extractPrefix returns the part of the identifier before the cursor.
func extractPrefix(text string, pos protocol.Position) string {
	line, start, cursor, _ := wordAt(text, pos)
	return line[start:cursor]
}

// extractWord returns the whole identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	line, start, _, end := wordAt(text, pos)
	return line[start:end]
}

// findLabel returns the 0-based line defining label within the unit that
// contains line from.
func findLabel(text string, from int, label string) (int, bool) {
	lines := strings.Split(text, "\n")
	if from >= len(lines) {
		return 0, false
	}

	start, end := 0, len(lines)
	for i := from; i >= 0; i-- {
		if isUnitDirective(lines[i]) {
			start = i
			break
		}
	}
	for i := from + 1; i < len(lines); i++ {
		if isUnitDirective(lines[i]) {
			end = i
			break
		}
	}

	for i := start; i < end; i++ {
		code := lines[i]
		if j := strings.IndexByte(code, ';'); j >= 0 {
			code = code[:j]
		}
		if j := strings.IndexByte(code, ':'); j >= 0 && strings.TrimSpace(code[:j]) == label {
			return i, true
		}
	}
	return 0, false
}

func isUnitDirective(line string) bool {
	fields := strings.Fields(line)
	return len(fields) > 0 && fields[0] == ".unit"
}

func boolPtr(b bool) *bool {
	return &b
}
