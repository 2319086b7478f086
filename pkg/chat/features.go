package chat

import "strings"

// Теги возможностей RCS.
const (
	FeatureOmaIM            = "+g.oma.sip-im"
	FeatureRcse             = "+g.3gpp.iari-ref"
	FeatureGeolocationPush  = "urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.geopush"
	FeatureFileTransfer     = "urn%3Aurn-7%3A3gpp-application.ims.iari.rcse.ft"
	FeatureFileTransferHTTP = "urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.fthttp"
	FeatureFileTransferSF   = "urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.ftstandfw"
)

// Features включенные возможности, которые объявляются в Contact.
type Features struct {
	GeolocationPush  bool
	FileTransfer     bool
	FileTransferHTTP bool
	FileTransferSF   bool
}

// SupportedFeatureTags теги для чата один на один и группового чата.
func SupportedFeatureTags(f Features) []string {
	tags := []string{FeatureOmaIM}

	var rcse []string
	if f.GeolocationPush {
		rcse = append(rcse, FeatureGeolocationPush)
	}
	if f.FileTransfer {
		rcse = append(rcse, FeatureFileTransfer)
	}
	if f.FileTransferHTTP {
		rcse = append(rcse, FeatureFileTransferHTTP)
	}
	if f.FileTransferSF {
		rcse = append(rcse, FeatureFileTransferSF)
	}
	if len(rcse) > 0 {
		tags = append(tags, FeatureRcse+`="`+strings.Join(rcse, ",")+`"`)
	}
	return tags
}

// AcceptContactTagsForGroupChat теги Accept-Contact для группового чата.
func AcceptContactTagsForGroupChat() []string {
	return []string{FeatureOmaIM}
}
