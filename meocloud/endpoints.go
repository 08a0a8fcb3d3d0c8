package meocloud

// Endpoints holds the provider-specific REST URLs for one root namespace.
type Endpoints struct {
	Root         string
	AccountInfo  string
	CreateFolder string
	Files        string
	Metadata     string
}

// MeoCloudEndpoints returns the MeoCloud public API endpoints. sandbox selects
// the application folder instead of the full account.
func MeoCloudEndpoints(sandbox bool) Endpoints {
	root := "meocloud"
	if sandbox {
		root = "sandbox"
	}
	return Endpoints{
		Root:         root,
		AccountInfo:  "https://publicapi.meocloud.pt/1/Account/Info",
		CreateFolder: "https://publicapi.meocloud.pt/1/Fileops/CreateFolder",
		Files:        "https://api-content.meocloud.pt/1/Files/" + root,
		Metadata:     "https://publicapi.meocloud.pt/1/Metadata/" + root,
	}
}

// DropboxEndpoints returns the Dropbox core API v1 endpoints.
func DropboxEndpoints(sandbox bool) Endpoints {
	root := "dropbox"
	if sandbox {
		root = "sandbox"
	}
	return Endpoints{
		Root:         root,
		AccountInfo:  "https://api.dropbox.com/1/account/info",
		CreateFolder: "https://api.dropbox.com/1/fileops/create_folder",
		Files:        "https://api-content.dropbox.com/1/files_put/" + root,
		Metadata:     "https://api.dropbox.com/1/metadata/" + root,
	}
}

// EndpointsFor maps a dance provider name onto its storage API. Both MeoCloud
// environments share the production storage API.
func EndpointsFor(provider string, sandbox bool) (Endpoints, bool) {
	switch provider {
	case "meo", "meo-dev", "meocloud":
		return MeoCloudEndpoints(sandbox), true
	case "dropbox":
		return DropboxEndpoints(sandbox), true
	default:
		return Endpoints{}, false
	}
}
