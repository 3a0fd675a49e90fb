// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package algograph

import (
	"crypto"
	// The SHA-256 implementation is required for package digest.
	_ "crypto/sha256"

	"github.com/grailbio/base/digest"
)

// Digester is the digester used to compute node identities. We use a
// SHA256 digest.
var Digester = digest.Digester(crypto.SHA256)
