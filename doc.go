/*
Package ejdb implements an embeddable document database on top of a
key-value store (in this case, on top of Bolt).

We implement:

1. Collections of schemaless BSON documents addressed by ObjectID.

2. Queries in a MongoDB-like language (package query), with sorting,
paging, projection, updates and joins.

3. Secondary indexes over field paths: numeric, lexical, case-insensitive and
array-token.

4. Per-collection transactions.

# Technical Details

**Files.**
The database path names a registry file listing collections. Every
collection lives in its own Bolt file named <path>_<name>, so that a
transaction on one collection never blocks another.

**Buckets.**
A collection file has a data bucket (ObjectID => value), a meta bucket with
the collection state, and one bucket per index.

**Index ordinal**
We assign a unique positive integer ordinal to each index. These values are never
reused, even if an index is removed.

**Collection state**
We store a msgpack document per collection, called “collection state”. It
holds the index descriptors (field path, type, ordinal).

**Handles.**
Collections and queries refer to their DB weakly and remember the session
(open generation) they came from. Using them after the DB was closed,
re-opened or garbage collected fails with ecode.HandleExpired or
ecode.NotOpen.

## Binary encoding

**Index keys**: the encoded field value followed by the 12-byte ObjectID.
Numbers use an order-preserving 8-byte float encoding; strings are stored as
bytes (case-folded for case-insensitive indexes), truncated to 255 bytes and
suffixed by an xxhash64 of the full value when longer.

**Value**: value header, then BSON data, then encoded index key records.

**Value header**:
1. Flags (uvarint).
2. Modification count (uvarint).
3. Data size (uvarint).
4. Index size (uvarint).

**Index key records** (inside a value) record the keys contributed by this
record, so that updates delete exactly the stale index entries. Format:
1. Number of entries (uvarint).
2. For each entry: index ordinal (uvarint), key length (uvarint), key bytes.
*/
package ejdb
