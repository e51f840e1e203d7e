package plugcrawl

// Result is the output of one pipeline run. Flat results carry Records and
// are presented as {Identity: Records}; otherwise Record holds the single
// merged mapping.
type Result struct {
	Identity string
	Record   Record
	Records  []Record
	Flat     bool
}

// Value returns the result in its output shape.
func (r Result) Value() any {
	if r.Flat {
		return Record{r.Identity: r.Records}
	}
	return r.Record
}

// List returns the records of a flat result, or the single record wrapped
// in a slice.
func (r Result) List() []Record {
	if r.Flat {
		return r.Records
	}
	if r.Record == nil {
		return nil
	}
	return []Record{r.Record}
}

// Len returns the number of records in the result.
func (r Result) Len() int {
	return len(r.List())
}
