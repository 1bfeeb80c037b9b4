package domain

// KeyPrefix namespaces every key askdex writes to the index store.
const KeyPrefix = "askdex:"
