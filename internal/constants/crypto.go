package constants

// SecretTokenByteSize is the number of random bytes used to generate secret tokens
const SecretTokenByteSize = 24

// DerivedKeySize is the size in bytes of the client-side shared encryption key.
const DerivedKeySize = 32

// KeyDerivationInfo is the HKDF info label used to derive the shared encryption key.
const KeyDerivationInfo = "syncrelay shared key v1"
