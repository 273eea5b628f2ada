/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"snipvault/internal/config"
	"snipvault/internal/crash"
	"snipvault/internal/domain"
	"snipvault/internal/export"
	"snipvault/internal/fence"
	"snipvault/internal/history"
	"snipvault/internal/kv"
	applog "snipvault/internal/log"
	"snipvault/internal/medium"
	"snipvault/internal/snippets"
	"snipvault/internal/version"
)

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "snipvault - persistent code snippet store")
	_, _ = fmt.Fprintf(w, "Version: %s\n", version.String())
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  snipvault version|-v|--version            Show version")
	_, _ = fmt.Fprintln(w, "  snipvault save <name> <language> <file|->  Save code from a file or stdin (language auto = detect)")
	_, _ = fmt.Fprintln(w, "  snipvault get <name>                       Print one snippet as JSON")
	_, _ = fmt.Fprintln(w, "  snipvault list                             List saved snippets")
	_, _ = fmt.Fprintln(w, "  snipvault delete <name>                    Delete a snippet")
	_, _ = fmt.Fprintln(w, "  snipvault clear                            Delete all snippets")
	_, _ = fmt.Fprintln(w, "  snipvault import <file.json|.md|.zip|->    Save every snippet found in the file, all or nothing")
	_, _ = fmt.Fprintln(w, "  snipvault export-pdf <out.pdf>             Render all snippets into a PDF")
	_, _ = fmt.Fprintln(w, "  snipvault export-zip <out.zip>             Write all snippets as source files into a ZIP")
	_, _ = fmt.Fprintln(w, "  snipvault kv get|set|rm <key> [<json>]     Raw access to stored JSON values")
	_, _ = fmt.Fprintln(w, "  snipvault config [set-dsn <dsn>|forget-dsn] Show effective config or manage the postgres DSN")
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// app carries what every storage command needs.
type app struct {
	cfg      config.AppConfig
	m        medium.Medium
	snip     *snippets.Manager
	hist     *history.Manager
	log      *slog.Logger
	warnings []kv.Warning
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	defer crash.Recover("", nil)

	if len(args) == 0 {
		usage(stdout)
		return 0
	}
	switch args[0] {
	case "version", "--version", "-v":
		_, _ = fmt.Fprintln(stdout, version.String())
		return 0
	case "help", "--help", "-h":
		usage(stdout)
		return 0
	}

	cfg, dsn, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
		Writer:    stderr,
	})
	l := applog.WithComponent("cli")
	l.Debug("start", slog.String("cmd", args[0]), slog.Int("args", len(args)))

	if args[0] == "config" {
		return runConfig(args[1:], cfg, stdout, stderr)
	}

	opts, err := cfg.MediumOptions(dsn)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	m, err := medium.Open(opts)
	if err != nil {
		l.Error("open storage failed", slog.String("backend", opts.Backend), slog.Any("err", err))
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	defer func() {
		if err := medium.Close(m); err != nil {
			l.Warn("close storage failed", slog.Any("err", err))
		}
	}()
	crashDir := ""
	if opts.Backend != medium.BackendMemory {
		crashDir = filepath.Join(opts.Dir, "crash")
	}
	defer crash.Recover(crashDir, m)

	a := &app{cfg: cfg, m: m, log: l, hist: history.NewManager(cfg.History.ManagerConfig())}
	a.snip, err = snippets.New(m, snippets.Options{
		Key:       cfg.Snippets.Key,
		Validate:  cfg.Snippets.Validate,
		History:   a.hist,
		OnWarning: func(w kv.Warning) { a.warnings = append(a.warnings, w) },
	})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}

	code := a.dispatch(args, stdin, stdout, stderr)
	for _, w := range a.warnings {
		_, _ = fmt.Fprintln(stderr, "warning:", w.Error())
	}
	return code
}

func (a *app) dispatch(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fail := func(err error) int {
		a.log.Error("command failed", slog.String("cmd", args[0]), slog.Any("err", err))
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	need := func(n int, what string) bool {
		if len(args) < n+1 {
			_, _ = fmt.Fprintf(stderr, "%s requires %s\n", args[0], what)
			usage(stderr)
			return false
		}
		return true
	}

	switch args[0] {
	case "save":
		if !need(3, "<name> <language> <file|->") {
			return 2
		}
		name, lang, src := args[1], args[2], args[3]
		code, err := readSource(src, stdin)
		if err != nil {
			return fail(err)
		}
		if lang == "auto" || lang == "-" {
			lang = snippets.DetectLanguage(src)
		}
		if err := a.snip.Save(name, domain.Snippet{Code: code, Language: lang}); err != nil {
			return fail(err)
		}
		a.log.Info("snippet saved", slog.String("name", name), slog.String("language", lang), slog.Int("bytes", len(code)))
		_, _ = fmt.Fprintf(stdout, "Saved %q\n", name)
		return 0
	case "get":
		if !need(1, "<name>") {
			return 2
		}
		e, ok := a.snip.Get(args[1])
		if !ok {
			_, _ = fmt.Fprintf(stderr, "no snippet named %q\n", args[1])
			return 1
		}
		b, err := json.MarshalIndent(e, "", "  ")
		if err != nil {
			return fail(err)
		}
		_, _ = fmt.Fprintln(stdout, string(b))
		return 0
	case "list":
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "NAME\tLANGUAGE\tSAVED AT")
		for _, e := range a.snip.List() {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.Payload.Language, e.SavedAt)
		}
		if err := tw.Flush(); err != nil {
			return fail(err)
		}
		return 0
	case "delete":
		if !need(1, "<name>") {
			return 2
		}
		a.snip.Delete(args[1])
		_, _ = fmt.Fprintf(stdout, "Deleted %q\n", args[1])
		return 0
	case "clear":
		n := a.snip.Len()
		a.snip.Clear()
		_, _ = fmt.Fprintf(stdout, "Cleared %d snippet(s)\n", n)
		return 0
	case "import":
		if !need(1, "<file.json>") {
			return 2
		}
		n, err := a.importFile(args[1], stdin)
		if err != nil {
			return fail(err)
		}
		_, _ = fmt.Fprintf(stdout, "Imported %d snippet(s)\n", n)
		return 0
	case "export-pdf":
		if !need(1, "<out.pdf>") {
			return 2
		}
		if err := export.SnippetsPDF(a.snip.List(), args[1], export.PDFOptions{Author: "snipvault " + version.Version}); err != nil {
			return fail(err)
		}
		_, _ = fmt.Fprintln(stdout, "Wrote", args[1])
		return 0
	case "export-zip":
		if !need(1, "<out.zip>") {
			return 2
		}
		if err := export.SnippetsZip(a.snip.List(), args[1]); err != nil {
			return fail(err)
		}
		_, _ = fmt.Fprintln(stdout, "Wrote", args[1])
		return 0
	case "kv":
		return a.runKV(args[1:], stdout, stderr)
	}
	_, _ = fmt.Fprintf(stderr, "unknown command %q\n", args[0])
	usage(stderr)
	return 2
}

// importFile saves every snippet found in path: a {name: {code, language}}
// JSON document, Markdown notes with fenced code blocks, or an archive made
// by export-zip. Nothing is saved unless every snippet is accepted.
func (a *app) importFile(path string, stdin io.Reader) (int, error) {
	doc, err := readImport(path, stdin)
	if err != nil {
		return 0, err
	}
	if err := a.snip.SaveAll(doc); err != nil {
		return 0, fmt.Errorf("import: %w (nothing imported)", err)
	}
	return len(doc), nil
}

func (a *app) runKV(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		_, _ = fmt.Fprintln(stderr, "kv requires get|set|rm <key>")
		return 2
	}
	opts := []kv.Option{kv.WithWarningHandler(func(w kv.Warning) { a.warnings = append(a.warnings, w) })}
	key := args[1]
	switch args[0] {
	case "get":
		v, ok, err := a.m.GetItem(key)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, "Error:", err)
			return 1
		}
		if !ok {
			_, _ = fmt.Fprintf(stderr, "no value stored under %q\n", key)
			return 1
		}
		var pretty any
		if json.Unmarshal([]byte(v), &pretty) != nil {
			_, _ = fmt.Fprintln(stdout, v)
			return 0
		}
		b, _ := json.MarshalIndent(pretty, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(b))
		return 0
	case "set":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "kv set requires <key> <json>")
			return 2
		}
		if !json.Valid([]byte(args[2])) {
			_, _ = fmt.Fprintln(stderr, "Error: value is not valid JSON")
			return 1
		}
		kv.New[json.RawMessage](a.m, key, nil, opts...).Set(json.RawMessage(args[2]))
		return 0
	case "rm":
		kv.New[json.RawMessage](a.m, key, nil, opts...).Remove()
		return 0
	}
	_, _ = fmt.Fprintf(stderr, "unknown kv command %q\n", args[0])
	return 2
}

func runConfig(args []string, cfg config.AppConfig, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		switch args[0] {
		case "set-dsn":
			if len(args) < 2 {
				_, _ = fmt.Fprintln(stderr, "set-dsn requires <dsn>")
				return 2
			}
			if err := config.Save(cfg, args[1]); err != nil {
				_, _ = fmt.Fprintln(stderr, "Error:", err)
				return 1
			}
			_, _ = fmt.Fprintln(stdout, "Stored postgres DSN in the OS keyring")
			return 0
		case "forget-dsn":
			if err := config.ForgetDSN(); err != nil {
				_, _ = fmt.Fprintln(stderr, "Error:", err)
				return 1
			}
			return 0
		default:
			_, _ = fmt.Fprintf(stderr, "unknown config command %q\n", args[0])
			return 2
		}
	}
	path, _ := config.ConfigPath()
	_, _ = fmt.Fprintf(stdout, "# %s\n", path)
	for _, key := range []string{
		"storage.backend", "storage.dir", "storage.namespace", "storage.quota_bytes",
		"snippets.key", "snippets.validate",
		"logging.level", "logging.format", "logging.source", "logging.file",
	} {
		if name, ok := config.EnvOverrideFor(key); ok {
			_, _ = fmt.Fprintf(stdout, "# %s overridden by %s\n", key, name)
		}
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	_, _ = stdout.Write(b)
	return 0
}

func readImport(path string, stdin io.Reader) (map[string]domain.Snippet, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return export.ReadSnippetsZip(path)
	case ".md", ".markdown":
		raw, err := readSource(path, stdin)
		if err != nil {
			return nil, err
		}
		blocks, errs := fence.Parse(raw)
		if len(errs) > 0 {
			return nil, fmt.Errorf("parse %s: %w", path, errs[0])
		}
		doc := make(map[string]domain.Snippet, len(blocks))
		for _, b := range blocks {
			doc[b.Name] = domain.Snippet{Code: b.Code, Language: b.Language}
		}
		return doc, nil
	}
	raw, err := readSource(path, stdin)
	if err != nil {
		return nil, err
	}
	var doc map[string]domain.Snippet
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func readSource(src string, stdin io.Reader) (string, error) {
	if src == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("no such file: %s", src)
		}
		return "", err
	}
	return strings.TrimPrefix(string(b), "\ufeff"), nil
}
