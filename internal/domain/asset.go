package domain

// Asset is an input file submitted by a user before a job runs.
type Asset struct {
	Folder   string
	Filename string
	MIME     string
	Data     []byte
}

// AssetRef identifies an uploaded asset both locally and at the provider.
type AssetRef struct {
	Key         string `json:"key"`
	ProviderRef string `json:"provider_ref"`
	URL         string `json:"url,omitempty"`
}
