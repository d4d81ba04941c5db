// Copyright 2025 Matthew Gall <me@matthewgall.dev>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWorkbookExport(t *testing.T) {
	result := analysedResult(t)

	var buf bytes.Buffer
	require.NoError(t, NewWorkbookExporter(NewDiscardLogger()).Write(&buf, result))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetSummary, SheetBrackets, SheetCosts, SheetDPE, SheetHeatmap}, f.GetSheetList())

	rows, err := f.GetRows(SheetBrackets)
	require.NoError(t, err)
	require.Len(t, rows, len(result.BracketStats)+1)
	assert.Equal(t, "Tranche", rows[0][0])
	assert.Equal(t, result.BracketStats[0].Key, rows[1][0])
	assert.Equal(t, "5", rows[1][1])

	summary, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	assert.Equal(t, "Département", summary[1][0])
	assert.Equal(t, "Haute-Savoie (74)", summary[1][1])

	dpe, err := f.GetRows(SheetDPE)
	require.NoError(t, err)
	assert.Equal(t, CategoryPassoire+" (%)", dpe[0][len(dpe[0])-1])
}

func TestWorkbookExportToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.xlsx")
	require.NoError(t, NewWorkbookExporter(NewDiscardLogger()).Export(analysedResult(t), path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Len(t, f.GetSheetList(), 5)
}

func TestWorkbookExportBadPath(t *testing.T) {
	err := NewWorkbookExporter(NewDiscardLogger()).Export(analysedResult(t), filepath.Join(t.TempDir(), "missing", "stats.xlsx"))

	var storageErr *StorageError
	assert.ErrorAs(t, err, &storageErr)
}
