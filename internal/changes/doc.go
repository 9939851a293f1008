// Package changes records accepted playlist mutations and fans them out to every open
// session of the playlist.
//
// A record is written to the change log first and published second. Subscribers receive
// records in the order the channel delivers them and are expected to re-read the affected
// part of the playlist rather than patch local state from the payload.
package changes
