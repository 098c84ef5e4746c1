package constants

// MillisecondsPerSecond is the number of milliseconds in a second.
const MillisecondsPerSecond = 1000

// BytesPerMiB is the number of bytes in one mebibyte.
const BytesPerMiB = 1024 * 1024
