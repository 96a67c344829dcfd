// Package audio holds the PCM side of the pipeline: overlap-add
// reconstruction of decoded frames, post-processing hooks and WAV encoding.
package audio
