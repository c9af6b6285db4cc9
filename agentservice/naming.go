// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentservice

import (
	"encoding/binary"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/zeebo/blake3"
)

// maxObjectName is the engine's limit on service and config names.
const maxObjectName = 63

// artifactNameDomainKey separates artifact-name hashes from any other
// BLAKE3 use. ASCII, zero-padded to 32 bytes.
var artifactNameDomainKey = [32]byte{
	's', 'c', 'a', 'n', 'f', 'l', 'e', 'e', 't', '.', 'a', 'r', 't', 'i', 'f', 'a',
	'c', 't', '-', 'n', 'a', 'm', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// artifactDigestLength is the number of hex characters of the digest
// kept in a name: 160 bits.
const artifactDigestLength = 40

// ArtifactName returns the deterministic name of a configuration
// artifact: kind, then a hash of image, runtime, and instance id. The
// same inputs always produce the same name, so a rebuilt instance
// finds and replaces its previous artifacts.
func ArtifactName(kind, image, runtime, instanceID string) string {
	hasher, err := blake3.NewKeyed(artifactNameDomainKey[:])
	if err != nil {
		panic("agentservice: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	// Length-prefix each field so ("ab","c") and ("a","bc") differ.
	var length [8]byte
	for _, field := range []string{image, runtime, instanceID} {
		binary.BigEndian.PutUint64(length[:], uint64(len(field)))
		hasher.Write(length[:])
		hasher.Write([]byte(field))
	}
	digest := hex.EncodeToString(hasher.Sum(nil))[:artifactDigestLength]
	name := kind + "_" + digest
	if len(name) > maxObjectName {
		name = name[len(name)-maxObjectName:]
	}
	return name
}

var invalidServiceNameCharacters = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ServiceName derives a service name from the manifest name, the scan
// id, and the instance id. Names longer than the engine limit are
// shortened by hashing the tail.
func ServiceName(agentName, scanID, instanceID string) string {
	base := invalidServiceNameCharacters.ReplaceAllString(strings.ToLower(agentName), "_")
	name := strings.Trim(base, "_-") + "_" + shortID(scanID) + "_" + instanceID
	if len(name) <= maxObjectName {
		return name
	}
	digest := ArtifactName("", agentName, scanID, instanceID)[1:17]
	return name[:maxObjectName-len(digest)-1] + "_" + digest
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
