// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Relaymesh Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package identity resolves agent DIDs to identity documents and
// parses their published JWK material.
package identity

import (
	"sync"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/message"
)

// Document is the resolved identity record for one DID.
type Document struct {
	DID       string         `json:"did"`
	AgentID   string         `json:"agent_id,omitempty"`
	PublicKey string         `json:"public_key,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Key parses the document's JWK-encoded public key.
func (d *Document) Key() (jwk.Key, error) {
	if d.PublicKey == "" {
		return nil, errs.New(errs.KindNotFound, "did %q has no public key", d.DID)
	}
	key, err := jwk.ParseKey([]byte(d.PublicKey))
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidParams, err, "did %q public key is not a JWK", d.DID)
	}
	return key, nil
}

// Resolver maps DIDs to identity documents.
type Resolver interface {
	Resolve(did string) (*Document, error)
}

// StaticResolver is an in-memory resolver populated at registration
// time.
type StaticResolver struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

// NewStaticResolver creates an empty resolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{docs: make(map[string]*Document)}
}

// Put installs or replaces the document for its DID.
func (r *StaticResolver) Put(doc Document) error {
	if doc.DID == "" {
		return errs.New(errs.KindInvalidParams, "identity document needs a did")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.DID] = &doc
	return nil
}

// Resolve returns the document for did.
func (r *StaticResolver) Resolve(did string) (*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[did]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "did %q not found", did)
	}
	out := *doc
	return &out, nil
}

// Remove drops the document for did. Returns false when absent.
func (r *StaticResolver) Remove(did string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.docs[did]
	delete(r.docs, did)
	return ok
}

// Verified reports whether the message claims a verifiable sender:
// it carries both a sender DID and a non-empty signature.
func Verified(msg message.Message) bool {
	return msg.SenderDID != "" && msg.Signature != ""
}
