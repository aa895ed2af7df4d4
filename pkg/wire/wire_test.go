package wire

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := Message{
		Tag:        Prepare,
		TxnID:      "1",
		ImageBytes: []byte{1, 2, 3},
		Filenames:  []string{"a.png", "b.png"},
	}
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Tag != msg.Tag || got.TxnID != msg.TxnID || len(got.Filenames) != 2 {
		t.Fatalf("got %+v, want %+v", got, msg)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	if _, err := Decode([]byte(`{"tag":"BOGUS","txn_id":"1"}`)); err == nil {
		t.Fatal("expected an error for an unrecognized tag")
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected an error for invalid JSON")
	}
}

func TestAllTagsRoundTrip(t *testing.T) {
	for _, tag := range []Tag{Prepare, Vote, Commit, Abort, Ack} {
		data, err := Encode(Message{Tag: tag, TxnID: "1"})
		if err != nil {
			t.Fatalf("Encode(%s): %v", tag, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s): %v", tag, err)
		}
		if got.Tag != tag {
			t.Errorf("got tag %s, want %s", got.Tag, tag)
		}
	}
}
