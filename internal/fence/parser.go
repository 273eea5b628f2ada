/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package fence extracts fenced code blocks from Markdown-style notes so they
// can be imported as snippets.
package fence

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
)

var (
	reHeading = regexp.MustCompile(`^(#+)\s*(.*)$`)
	reFence   = regexp.MustCompile("^(`{3,}|~{3,})\\s*(.*)$")
	reNameKV  = regexp.MustCompile(`(?i)\bname=("[^"]*"|\S+)`)
)

// Parse extracts every fenced block from input.
// Supported syntax:
//   - Fences open with ``` or ~~~ (three or more) and close with a line of the
//     same character at least as long. The first word of the info string is the
//     language; name=<n> or name="<n>" sets the snippet name.
//   - Otherwise a block is named after the nearest preceding heading; further
//     blocks under the same heading get -2, -3, ... suffixes.
//   - Blocks before any heading are named snippet-1, snippet-2, ...
//
// An unterminated fence is reported as an Error; its content up to the end of
// input is still returned.
func Parse(input string) ([]Block, []Error) {
	var (
		blocks  []Block
		errs    []Error
		heading string
		used    = map[string]int{}
		open    *Block
		marker  string
		body    []string
		unnamed int
	)

	name := func(explicit string) string {
		base := explicit
		if base == "" {
			base = heading
		}
		if base == "" {
			unnamed++
			base = fmt.Sprintf("snippet-%d", unnamed)
		}
		used[base]++
		if n := used[base]; n > 1 {
			return fmt.Sprintf("%s-%d", base, n)
		}
		return base
	}

	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		trim := strings.TrimSpace(line)

		if open != nil {
			if isClosing(trim, marker) {
				open.Code = strings.Join(body, "\n")
				blocks = append(blocks, *open)
				open, body = nil, nil
				continue
			}
			body = append(body, line)
			continue
		}

		if m := reFence.FindStringSubmatch(trim); m != nil {
			lang, explicit := parseInfo(m[2])
			open = &Block{Name: name(explicit), Language: lang, LineNo: lineNo}
			marker = m[1]
			continue
		}
		if m := reHeading.FindStringSubmatch(trim); m != nil {
			heading = strings.TrimSpace(m[2])
		}
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, Error{Line: lineNo, Column: 1, Message: err.Error()})
	}
	if open != nil {
		errs = append(errs, Error{Line: open.LineNo, Column: 1, Message: "unterminated code fence"})
		open.Code = strings.Join(body, "\n")
		blocks = append(blocks, *open)
	}
	return blocks, errs
}

func isClosing(trim, marker string) bool {
	if len(trim) < len(marker) || trim[0] != marker[0] {
		return false
	}
	return strings.Trim(trim, marker[:1]) == ""
}

func parseInfo(info string) (lang, name string) {
	if m := reNameKV.FindStringSubmatch(info); m != nil {
		name = strings.Trim(m[1], `"`)
		info = strings.Replace(info, m[0], "", 1)
	}
	if f := strings.Fields(info); len(f) > 0 {
		lang = strings.ToLower(strings.Trim(f[0], "{}."))
	}
	return lang, strings.TrimSpace(name)
}
