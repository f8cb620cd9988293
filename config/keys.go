package config

// Field names understood by the capture loop.
const (
	KeyStreamSource       = "STREAM_SOURCE"
	KeyUploadService      = "UPLOAD_SERVICE"
	KeyAPICalls           = "API_CALLS"
	KeyAPIURL             = "API_URL"
	KeyVideoDuration      = "VIDEO_DURATION"
	KeySplitVideoDuration = "SPLIT_VIDEO_DURATION"
	KeySaveOnFail         = "SAVE_ON_FAIL"

	KeyStreamerName  = "STREAMER_NAME"
	KeyTimeDate      = "TIME_DATE"
	KeyTimeClock     = "TIME_CLOCK"
	KeyTimeDateCheck = "TIME_DATE_CHECK"
	KeyCurrentPart   = "CURRENT_PART"

	KeyVideoTitle       = "VIDEO_TITLE"
	KeyVideoPlaylist    = "VIDEO_PLAYLIST"
	KeyVideoDescription = "VIDEO_DESCRIPTION"
	KeyVideoVisibility  = "VIDEO_VISIBILITY"
	KeyRcloneFilename   = "RCLONE_FILENAME"
	KeyRcloneDir        = "RCLONE_DIR"
	KeyRcloneRemote     = "RCLONE_REMOTE"
	KeyRcloneFileExt    = "RCLONE_FILEEXT"
	KeyLocalFilename    = "LOCAL_FILENAME"
	KeyLocalExtension   = "LOCAL_EXTENSION"

	KeyStreamlinkQuality = "STREAMLINK_QUALITY"
	KeyStreamlinkLogs    = "STREAMLINK_LOGS"
	KeyStreamlinkFlags   = "STREAMLINK_FLAGS"

	KeyReEncode       = "RE_ENCODE"
	KeyReEncodeCodec  = "RE_ENCODE_CODEC"
	KeyReEncodeCRF    = "RE_ENCODE_CRF"
	KeyReEncodePreset = "RE_ENCODE_PRESET"
	// KeyReEncodePresetLegacy is the misspelled key older config files use.
	KeyReEncodePresetLegacy = "RE_ECODE_PRESET"
	KeyReEncodeLog          = "RE_ENCODE_LOG"

	KeyRTMPSURL       = "RTMPS_URL"
	KeyRTMPSStreamKey = "RTMPS_STREAM_KEY"
	KeyRTMPSChannel   = "RTMPS_CHANNEL"
	KeyAudioBitrate   = "AUDIO_BITRATE"
	KeyAudioCodec     = "AUDIO_CODEC"
	KeyFileFormat     = "FILE_FORMAT"

	KeyYouTubeUploadMethod = "YOUTUBE_UPLOAD_METHOD"
)

// EphemeralKeys are recomputed from their template every iteration.
var EphemeralKeys = []string{
	KeyVideoTitle,
	KeyVideoPlaylist,
	KeyVideoDescription,
	KeyRcloneFilename,
	KeyRcloneDir,
	KeyLocalFilename,
}
