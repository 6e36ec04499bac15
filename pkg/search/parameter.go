package search

// Encoder rewrites a raw URL search value into its database-comparable
// form before the Kind-specific comparison is applied (e.g. status-name
// lowercasing); nil means "compare the raw value as-is".
type Encoder func(raw string) string

// Parameter describes one URL search parameter an endpoint supports:
// its URL name, the physical SQL column it targets, its Kind, and an
// optional value encoder.
//
// Grounded on original_source's SearchParameter (nameUrl, nameDb, type,
// optional searchToDbValue).
type Parameter struct {
	NameURL string
	NameDB  string
	Kind    Kind
	Encode  Encoder
}

func (p Parameter) encode(raw string) string {
	if p.Encode == nil {
		return raw
	}
	return p.Encode(raw)
}
