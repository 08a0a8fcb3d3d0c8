package meocloud

// AccountInfo is the account snapshot returned by the account-info endpoint.
//
//	{
//	    "referral_link": "https://db.tt/Qn6Z5TdN",
//	    "display_name": "Rui Lopes",
//	    "uid": 20421111,
//	    "country": "PT",
//	    "quota_info": {"datastores": 0, "shared": 0, "quota": 34225520640, "normal": 11646663417},
//	    "email": "rgl@example.com"
//	}
type AccountInfo struct {
	DisplayName  string    `json:"display_name"`
	ReferralLink string    `json:"referral_link,omitempty"`
	Country      string    `json:"country,omitempty"`
	Email        string    `json:"email"`
	Quota        QuotaInfo `json:"quota_info"`

	// UID holds the decimal digits exactly as sent. MeoCloud emits uids that
	// overflow int64.
	UID string `json:"-"`
}

// QuotaInfo reports account storage in bytes.
type QuotaInfo struct {
	Quota      int64 `json:"quota"`
	Normal     int64 `json:"normal"`
	Shared     int64 `json:"shared"`
	Datastores int64 `json:"datastores"`
}

// UsedPercent returns the share of the quota in use, or 0 for an empty quota.
func (q QuotaInfo) UsedPercent() float64 {
	if q.Quota <= 0 {
		return 0
	}
	return float64(q.Normal) * 100 / float64(q.Quota)
}

// Metadata describes one version of a remote file or folder.
type Metadata struct {
	Size     int64  `json:"bytes"`
	Revision string `json:"rev"`
	Path     string `json:"path,omitempty"`
	IsDir    bool   `json:"is_dir,omitempty"`
	Modified string `json:"modified,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Root     string `json:"root,omitempty"`
}

// UploadOptions tunes Upload.
type UploadOptions struct {
	// CreateParents creates any missing ancestor directories first.
	CreateParents bool
	// Overwrite replaces an existing file conditionally on ParentRevision.
	// Without ParentRevision the current revision is looked up; when the
	// file does not exist the upload proceeds as a plain create.
	Overwrite      bool
	ParentRevision string
	// ContentType defaults to application/octet-stream.
	ContentType string
}
