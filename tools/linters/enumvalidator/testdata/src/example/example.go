package example

type IssuanceStatus string

const (
	IssuanceStatusPending IssuanceStatus = "pending"
	IssuanceStatusIssued  IssuanceStatus = "issued"
)

type MetadataMode string

const (
	MetadataModeTimestamped MetadataMode = "timestamped"
)

type IssuanceRequest struct {
	Status IssuanceStatus
}

type ChainConfig struct {
	MetadataMode MetadataMode
}

type Outcome struct {
	Status IssuanceStatus
	Note   string
}

func bad() {
	r := &IssuanceRequest{}
	r.Status = "issud" // want "enum field Status assigned string literal"

	c := &ChainConfig{}
	c.MetadataMode = "random" // want "enum field MetadataMode assigned string literal"

	_ = Outcome{Status: "failed"} // want "enum field Status set to string literal"
}

func good() {
	r := &IssuanceRequest{}
	r.Status = IssuanceStatusIssued // OK: using constant

	c := &ChainConfig{}
	c.MetadataMode = MetadataModeTimestamped // OK: using constant

	_ = Outcome{Status: IssuanceStatusPending, Note: "free text"} // OK: Note is a plain string

	_ = map[IssuanceStatus]string{IssuanceStatusIssued: "POAP already issued"} // OK: map value
}

func alsoGood() {
	// OK: Variable, not literal
	status := IssuanceStatusPending
	r := &IssuanceRequest{Status: status}
	_ = r
}
