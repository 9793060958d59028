package projection

import (
	"encoding/json"

	"github.com/stayline/whatsapp-bridge-go/internal/model"
)

// rawContent mirrors the kind-specific payload shapes the protocol library
// puts on the wire. Exactly one branch is populated per message.
type rawContent struct {
	Conversation        string `json:"conversation,omitempty"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage,omitempty"`
	ImageMessage    *rawMedia `json:"imageMessage,omitempty"`
	VideoMessage    *rawMedia `json:"videoMessage,omitempty"`
	AudioMessage    *rawMedia `json:"audioMessage,omitempty"`
	DocumentMessage *rawMedia `json:"documentMessage,omitempty"`
	StickerMessage  *rawMedia `json:"stickerMessage,omitempty"`
	LocationMessage *struct {
		DegreesLatitude  float64 `json:"degreesLatitude"`
		DegreesLongitude float64 `json:"degreesLongitude"`
		Name             string  `json:"name,omitempty"`
	} `json:"locationMessage,omitempty"`
	ContactMessage *struct {
		DisplayName string `json:"displayName"`
		VCard       string `json:"vcard,omitempty"`
	} `json:"contactMessage,omitempty"`
}

type rawMedia struct {
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// Classified is the normalized form of one raw payload.
type Classified struct {
	Kind     model.ContentKind
	Text     string
	Media    *model.MediaInfo
	Location *model.LocationInfo
	Contact  *model.ContactInfo
}

// Classify inspects the raw payload shape and produces the tagged content
// variant. Unrecognized shapes classify as unknown rather than erroring:
// the remote network adds kinds faster than we do.
func Classify(raw json.RawMessage) Classified {
	var content rawContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return Classified{Kind: model.KindUnknown}
	}

	switch {
	case content.Conversation != "":
		return Classified{Kind: model.KindText, Text: content.Conversation}

	case content.ExtendedTextMessage != nil:
		return Classified{Kind: model.KindText, Text: content.ExtendedTextMessage.Text}

	case content.ImageMessage != nil:
		return mediaClassified(model.KindImage, content.ImageMessage)

	case content.VideoMessage != nil:
		return mediaClassified(model.KindVideo, content.VideoMessage)

	case content.AudioMessage != nil:
		return mediaClassified(model.KindAudio, content.AudioMessage)

	case content.DocumentMessage != nil:
		return mediaClassified(model.KindDocument, content.DocumentMessage)

	case content.StickerMessage != nil:
		return mediaClassified(model.KindSticker, content.StickerMessage)

	case content.LocationMessage != nil:
		return Classified{
			Kind: model.KindLocation,
			Location: &model.LocationInfo{
				Latitude:  content.LocationMessage.DegreesLatitude,
				Longitude: content.LocationMessage.DegreesLongitude,
				Name:      content.LocationMessage.Name,
			},
		}

	case content.ContactMessage != nil:
		return Classified{
			Kind: model.KindContact,
			Contact: &model.ContactInfo{
				DisplayName: content.ContactMessage.DisplayName,
				VCard:       content.ContactMessage.VCard,
			},
		}

	default:
		return Classified{Kind: model.KindUnknown}
	}
}

func mediaClassified(kind model.ContentKind, media *rawMedia) Classified {
	return Classified{
		Kind: kind,
		Text: media.Caption,
		Media: &model.MediaInfo{
			MimeType: media.MimeType,
			FileName: media.FileName,
			Caption:  media.Caption,
		},
	}
}
