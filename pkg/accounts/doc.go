// Package accounts stores the NTLM accounts the server verifies clients
// against.
//
// Accounts come from the configuration file (StaticStore) or from a SQLite
// or PostgreSQL database (GORMStore) managed with the account CLI commands.
// Only NT hashes are kept. Directory chains both and implements
// ntlm.CredentialStore.
package accounts
