/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package export renders saved snippets into portable files.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"snipvault/internal/snippets"
)

// PDFOptions controls the snippet book layout. Units are points.
type PDFOptions struct {
	Title    string
	Author   string
	CodeSize float64 // monospace font size, default 9
	Margin   float64 // page margin, default 42
}

// SnippetsPDF writes entries to a multi-page A4 PDF at outPath, one section
// per snippet in the given order. Built-in Helvetica and Courier are used so
// no fonts are embedded.
func SnippetsPDF(entries []snippets.Entry, outPath string, opt PDFOptions) error {
	if opt.CodeSize <= 0 {
		opt.CodeSize = 9
	}
	if opt.Margin <= 0 {
		opt.Margin = 42
	}
	if opt.Title == "" {
		opt.Title = "Code snippets"
	}

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		SizeStr: "A4",
	})
	pdf.SetTitle(opt.Title, true)
	if opt.Author != "" {
		pdf.SetAuthor(opt.Author, true)
	}
	pdf.SetMargins(opt.Margin, opt.Margin, opt.Margin)
	pdf.SetAutoPageBreak(true, opt.Margin)
	// core fonts are cp1252; translate what we can
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 24, tr(opt.Title), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 14, fmt.Sprintf("%d snippet(s)", len(entries)), "", 1, "L", false, 0, "")
	pdf.Ln(10)

	lineH := opt.CodeSize * 1.3
	for _, e := range entries {
		pdf.SetFont("Helvetica", "B", 13)
		heading := e.Name
		if e.Payload.Language != "" {
			heading += " (" + e.Payload.Language + ")"
		}
		pdf.CellFormat(0, 18, tr(heading), "", 1, "L", false, 0, "")
		if e.SavedAt != "" {
			pdf.SetFont("Helvetica", "I", 8)
			pdf.SetTextColor(110, 110, 110)
			pdf.CellFormat(0, 11, "saved "+e.SavedAt, "", 1, "L", false, 0, "")
			pdf.SetTextColor(0, 0, 0)
		}
		pdf.SetFont("Courier", "", opt.CodeSize)
		pdf.SetFillColor(244, 244, 244)
		pdf.MultiCell(0, lineH, tr(normalizeCode(e.Payload.Code)), "", "L", true)
		pdf.Ln(12)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func normalizeCode(code string) string {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	code = strings.ReplaceAll(code, "\t", "    ")
	return strings.TrimRight(code, "\n")
}
