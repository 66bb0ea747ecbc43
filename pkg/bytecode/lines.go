package bytecode

// LineRun is one entry of the run-length line table: Count consecutive
// code bytes that all came from source line Line.
type LineRun struct {
	Count int `cbor:"1,keyasint"`
	Line  int `cbor:"2,keyasint"`
}

// LineTable maps code offsets to source lines using run-length encoding.
// The sum of all Count fields always equals the number of code bytes
// recorded, and adjacent runs never share a line.
type LineTable struct {
	runs []LineRun
}

// add records one more byte on line.
func (t *LineTable) add(line int) {
	if n := len(t.runs); n > 0 && t.runs[n-1].Line == line {
		t.runs[n-1].Count++
		return
	}
	t.runs = grow(t.runs, 1)
	t.runs = append(t.runs, LineRun{Count: 1, Line: line})
}

// Lookup returns the line for the byte at offset.
//
// A byte belongs to the first run for which the remaining offset is
// strictly less than the run's Count. Offsets outside the recorded code
// return ErrLineOutOfRange.
func (t *LineTable) Lookup(offset int) (int, error) {
	if offset < 0 {
		return 0, ErrLineOutOfRange
	}
	for _, run := range t.runs {
		if offset < run.Count {
			return run.Line, nil
		}
		offset -= run.Count
	}
	return 0, ErrLineOutOfRange
}

// Runs returns the table's runs. The slice must not be modified.
func (t *LineTable) Runs() []LineRun {
	return t.runs
}

// Total returns the number of bytes covered by the table.
func (t *LineTable) Total() int {
	total := 0
	for _, run := range t.runs {
		total += run.Count
	}
	return total
}

func (t *LineTable) free() {
	t.runs = nil
}
