// Copyright 2018-2024 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package zippack packs file parts as single-entry zip archives and unpacks
// them again on download. Parts written by old versions were stored without
// an archive, so unpacking falls through to the raw bytes when the zip magic
// is missing.
package zippack

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"io"

	"github.com/cs3org/chatvault/pkg/errtypes"
	"github.com/pkg/errors"
)

var zipMagic = []byte{0x50, 0x4b, 0x03, 0x04}

// Pack returns a zip archive holding data as its only entry, named
// entryName. Level 0 stores the entry uncompressed, levels 1-9 deflate it.
func Pack(data []byte, entryName string, level int) ([]byte, error) {
	if level < 0 || level > 9 {
		return nil, errtypes.BadRequest("zip compression level out of range")
	}

	buf := bytes.NewBuffer(make([]byte, 0, len(data)+512))
	zw := zip.NewWriter(buf)

	method := zip.Deflate
	if level == 0 {
		method = zip.Store
	} else {
		zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, level)
		})
	}

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   entryName,
		Method: method,
	})
	if err != nil {
		return nil, errors.Wrap(err, "zippack: error creating entry")
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, "zippack: error writing entry")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "zippack: error finishing archive")
	}
	return buf.Bytes(), nil
}

// UnpackOrRaw returns the bytes of the first entry if data is a zip
// archive, or data unchanged if it does not start with the zip magic.
// Data that carries the magic but is not a readable archive is a hard
// error, it is never reinterpreted as raw.
func UnpackOrRaw(data []byte) ([]byte, error) {
	if len(data) < 4 || !bytes.Equal(data[:4], zipMagic) {
		return data, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errtypes.PermanentError("malformed archive: " + err.Error())
	}
	if len(zr.File) == 0 {
		return nil, errtypes.PermanentError("malformed archive: no entries")
	}

	rc, err := zr.File[0].Open()
	if err != nil {
		return nil, errtypes.PermanentError("malformed archive: " + err.Error())
	}
	defer rc.Close()

	out, err := io.ReadAll(rc)
	if err != nil {
		return nil, errtypes.PermanentError("malformed archive: " + err.Error())
	}
	return out, nil
}
