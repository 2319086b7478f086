package media_sdp

// Negotiate выбирает первый локальный кодек, который есть среди
// предложенных. Порядок локального списка важнее порядка удаленного.
// Возвращается локальный кодек с payload type удаленной стороны, так как
// динамические номера в ответе должны совпадать с предложением.
func Negotiate(local, proposed []Codec) (Codec, bool) {
	for _, l := range local {
		for _, p := range proposed {
			if !l.Matches(p) {
				continue
			}
			selected := l
			selected.PayloadType = p.PayloadType
			if selected.Params == "" {
				selected.Params = p.Params
			}
			return selected, true
		}
	}
	return Codec{}, false
}

// Negotiated результат согласования медиа.
type Negotiated struct {
	Audio Codec
	// Video nil, если видео не предлагалось или не совпало
	Video *Codec

	RemoteAudio *Media
	RemoteVideo *Media
}

// NegotiateOffer согласует аудио и видео удаленного описания с локальными
// списками. Ошибка только при отсутствии общего аудио кодека, видео
// необязательно.
func NegotiateOffer(remote *Description, localAudio, localVideo []Codec) (*Negotiated, error) {
	audio := remote.Media(MediaAudio)
	if audio == nil {
		return nil, errorf(ErrCodeNoMedia, "в описании нет аудио")
	}
	codec, ok := Negotiate(localAudio, audio.Codecs)
	if !ok {
		return nil, errorf(ErrCodeIncompatibleCodec,
			"не найден совместимый аудио кодек среди предложенных: %v", audio.Codecs)
	}
	result := &Negotiated{Audio: codec, RemoteAudio: audio}

	if video := remote.Media(MediaVideo); video != nil && video.Port > 0 {
		if vc, ok := Negotiate(localVideo, video.Codecs); ok {
			result.Video = &vc
			result.RemoteVideo = video
		}
	}
	return result, nil
}
