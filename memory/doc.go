// Package memory provides semantic memory for agents: text documents stored
// with vector embeddings in named collections, and retrieval of the nearest
// documents across every collection.
//
// Architecture:
//   - Store: Vector storage backend (chromem-go, embedded)
//   - Embedder: Text-to-vector conversion (remote HTTP provider, local model)
//   - Manager: Adds documents and runs cross-collection retrieval
//
// Retrieval embeds the query once, asks each collection for its nearest
// documents, merges everything by ascending distance and keeps the global
// top N.
//
// A document's vector is computed when it is added. Changing the embedder
// afterwards leaves old vectors in place; nothing is re-embedded.
package memory
