/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package fence

import "testing"

func TestParseNamesBlocks(t *testing.T) {
	src := "intro text\n" +
		"```sh\n" +
		"ls -la\n" +
		"```\n" +
		"# Greeting\n" +
		"Some prose.\n" +
		"```javascript\n" +
		"console.log('hi')\n" +
		"```\n" +
		"~~~ JavaScript\n" +
		"console.log('again')\n" +
		"~~~\n" +
		"## Other\n" +
		"````go name=\"main loop\"\n" +
		"for {\n" +
		"```\n" +
		"}\n" +
		"````\n"

	blocks, errs := Parse(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	want := []Block{
		{Name: "snippet-1", Language: "sh", Code: "ls -la", LineNo: 2},
		{Name: "Greeting", Language: "javascript", Code: "console.log('hi')", LineNo: 7},
		{Name: "Greeting-2", Language: "javascript", Code: "console.log('again')", LineNo: 10},
		{Name: "main loop", Language: "go", Code: "for {\n```\n}", LineNo: 14},
	}
	if len(blocks) != len(want) {
		t.Fatalf("expected %d blocks, got %d: %+v", len(want), len(blocks), blocks)
	}
	for i := range want {
		if blocks[i] != want[i] {
			t.Errorf("block %d: got %+v want %+v", i, blocks[i], want[i])
		}
	}
}

func TestParseUnterminatedFence(t *testing.T) {
	blocks, errs := Parse("# T\n```\nline1\nline2")
	if len(errs) != 1 || errs[0].Line != 2 {
		t.Fatalf("expected one error at line 2, got %v", errs)
	}
	if len(blocks) != 1 || blocks[0].Code != "line1\nline2" || blocks[0].Language != "" || blocks[0].Name != "T" {
		t.Fatalf("content should be kept: %+v", blocks)
	}
	if errs[0].Error() != "line 2:1: unterminated code fence" {
		t.Fatalf("unexpected message %q", errs[0].Error())
	}
}

func TestParseHeadingsInsideFenceAreCode(t *testing.T) {
	blocks, _ := Parse("# A\n```py\n# comment\n```\n```py\nx\n```\n")
	if len(blocks) != 2 || blocks[0].Code != "# comment" || blocks[1].Name != "A-2" {
		t.Fatalf("unexpected blocks: %+v", blocks)
	}
}

func TestParseInfo(t *testing.T) {
	cases := []struct {
		in, lang, name string
	}{
		{"go", "go", ""},
		{"{.python}", "python", ""},
		{"name=x ts", "ts", "x"},
		{"", "", ""},
	}
	for _, c := range cases {
		lang, name := parseInfo(c.in)
		if lang != c.lang || name != c.name {
			t.Errorf("parseInfo(%q) = %q, %q; want %q, %q", c.in, lang, name, c.lang, c.name)
		}
	}
}
