package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedResponse marks a result that does not have the expected shape.
var ErrMalformedResponse = errors.New("malformed response")

type rawURI struct {
	URI    string `json:"uri"`
	Status string `json:"status"`
}

type rawFile struct {
	Index           count    `json:"index"`
	Path            string   `json:"path"`
	Length          count    `json:"length"`
	CompletedLength count    `json:"completedLength"`
	URIs            []rawURI `json:"uris"`
}

type rawEntry struct {
	GID             string    `json:"gid"`
	Status          string    `json:"status"`
	TotalLength     count     `json:"totalLength"`
	CompletedLength count     `json:"completedLength"`
	DownloadSpeed   count     `json:"downloadSpeed"`
	ErrorCode       string    `json:"errorCode"`
	ErrorMessage    string    `json:"errorMessage"`
	Files           []rawFile `json:"files"`
}

// DecodeVersion decodes an aria2.getVersion result. The payload must be an
// object with a non-empty version field.
func DecodeVersion(raw json.RawMessage) (VersionInfo, error) {
	var v VersionInfo
	if !isObject(raw) {
		return v, fmt.Errorf("%w: version result is not an object", ErrMalformedResponse)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: version: %v", ErrMalformedResponse, err)
	}
	if v.Version == "" {
		return v, fmt.Errorf("%w: version field missing", ErrMalformedResponse)
	}
	return v, nil
}

// DecodeGID decodes an aria2.addUri result.
func DecodeGID(raw json.RawMessage) (string, error) {
	var gid string
	if err := json.Unmarshal(raw, &gid); err != nil {
		return "", fmt.Errorf("%w: gid: %v", ErrMalformedResponse, err)
	}
	if gid == "" {
		return "", fmt.Errorf("%w: empty gid", ErrMalformedResponse)
	}
	return gid, nil
}

// DecodeEntries decodes the result of tellActive, tellWaiting or tellStopped.
// A null result is an empty queue. Every entry must carry a GID.
func DecodeEntries(raw json.RawMessage) ([]Entry, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var rawEntries []rawEntry
	if err := json.Unmarshal(trimmed, &rawEntries); err != nil {
		return nil, fmt.Errorf("%w: entries: %v", ErrMalformedResponse, err)
	}

	entries := make([]Entry, 0, len(rawEntries))
	for i, re := range rawEntries {
		if re.GID == "" {
			return nil, fmt.Errorf("%w: entry %d has no gid", ErrMalformedResponse, i)
		}
		e := Entry{
			GID:             re.GID,
			Status:          re.Status,
			TotalLength:     int64(re.TotalLength),
			CompletedLength: int64(re.CompletedLength),
			DownloadSpeed:   int64(re.DownloadSpeed),
			ErrorCode:       re.ErrorCode,
			ErrorMessage:    re.ErrorMessage,
		}
		for _, rf := range re.Files {
			f := File{
				Index:           int(rf.Index),
				Path:            rf.Path,
				Length:          int64(rf.Length),
				CompletedLength: int64(rf.CompletedLength),
			}
			for _, u := range rf.URIs {
				f.URIs = append(f.URIs, u.URI)
			}
			e.Files = append(e.Files, f)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
