package dialog

// Body тело SIP сообщения вместе с его Content-Type.
type Body struct {
	contentType string
	content     []byte
}

// NewBody создает тело с указанным типом содержимого.
func NewBody(contentType string, content []byte) *Body {
	return &Body{contentType: contentType, content: content}
}

func (b *Body) ContentType() string {
	if b == nil {
		return ""
	}
	return b.contentType
}

func (b *Body) Content() []byte {
	if b == nil {
		return nil
	}
	return b.content
}

func (b *Body) SetContentType(contentType string) {
	b.contentType = contentType
}

func (b *Body) SetContent(content []byte) {
	b.content = content
}
