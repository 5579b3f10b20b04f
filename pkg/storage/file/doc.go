// Package file provides a storage backend that keeps one file per record.
//
// # Layout
//
// Records live under base_path at
//
//	{base}/{layout dirs}/{id}.{json|yaml}[.gz|.bz2|.xz][.enc]
//
// where the layout directories depend on directory_structure:
//
//	flat          no subdirectories
//	by_type       {type}, "default" when the record has none
//	by_date       YYYY/MM/DD of created_at
//	hierarchical  {type}/YYYY/MM/DD
//
// Hidden files at any level belong to the backend: .index.json at the
// root, a .metadata.json sidecar per directory and .keysalt when
// encryption is enabled. Files ending in .tmp are in-flight writes and
// path.backupN files are prior versions; neither is ever read as data.
//
// # Durability
//
// Writes go to a temp file that is fsynced, renamed over the target and
// followed by a directory fsync. With enable_backups the previous version
// is kept as backup1 and older ones shift up to max_backups.
//
// # Encryption
//
// When encryption_key is set, payloads are sealed with XChaCha20-Poly1305
// under a key derived by scrypt from the secret and the per-store salt.
// Changing file_format, compression_type or encryption_key changes the
// file suffix, so records written under the old settings are not visible.
package file
