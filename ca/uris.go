package ca

// URIs are the service locations published for a CA.
type URIs struct {
	CACertURIs   []string `json:"cacert_uris,omitempty" yaml:"cacert_uris"`
	OCSPURIs     []string `json:"ocsp_uris,omitempty" yaml:"ocsp_uris"`
	CRLURIs      []string `json:"crl_uris,omitempty" yaml:"crl_uris"`
	DeltaCRLURIs []string `json:"deltacrl_uris,omitempty" yaml:"deltacrl_uris"`
}

// IsEmpty reports whether no URI is configured.
func (u URIs) IsEmpty() bool {
	return len(u.CACertURIs) == 0 && len(u.OCSPURIs) == 0 && len(u.CRLURIs) == 0 && len(u.DeltaCRLURIs) == 0
}

// Clone returns a deep copy of u.
func (u URIs) Clone() URIs {
	return URIs{
		CACertURIs:   cloneStrings(u.CACertURIs),
		OCSPURIs:     cloneStrings(u.OCSPURIs),
		CRLURIs:      cloneStrings(u.CRLURIs),
		DeltaCRLURIs: cloneStrings(u.DeltaCRLURIs),
	}
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
