// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for promptlab.
//
// Two implementations share the ConversationStore contract: MemoryStore for
// tests and throwaway sessions, and SQLiteStore, which also implements
// telemetry.MetricsStore so conversations and exchange records live in one
// database file.
//
// # Key Types
//
//   - Conversation: owner, title, ordered messages
//   - Message: immutable role/content turn with metadata
//   - ConversationSummary: lightweight view for listing
//   - ConversationStore: Create/AppendMessage/Get/ListByUser/Delete
//
// # Usage
//
//	store, err := storage.OpenSQLite("prompt_lab.db")
//	id, err := store.Create(ctx, &storage.Conversation{UserID: "u1", Title: "Hello"})
//	err = store.AppendMessage(ctx, id, storage.NewMessage(storage.RoleUser, "Hello", time.Now()))
//	list, err := store.ListByUser(ctx, "u1", 20, 0)
//
// # Ordering
//
// Messages keep insertion order. A message whose timestamp is earlier than
// the previous one is stored with the previous timestamp, so timestamps
// never decrease within a conversation.
package storage
