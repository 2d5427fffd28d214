/*
Package security seals credentials held in the operator's persisted state.

Facts carry database passwords and object-store keys, and every recorded
process plan carries the same values in its environment. When the operator
is started with a state key, SealedStore wraps the bbolt store and encrypts
those fields with AES-256-GCM before they are written:

	sealer, _ := security.NewSealerFromPassphrase(key)
	persist := security.NewSealedStore(bolt, sealer)

Sealed values are stored as "sealed:v1:<base64(nonce|ciphertext)>". Values
without the prefix are read back unchanged, so a store written without a
key keeps working after a key is introduced; each record is sealed the next
time it is saved.

Only credential fields are sealed. Hosts, ports, bucket names and the rest
of the plan stay readable for debugging.
*/
package security
